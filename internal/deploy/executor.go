// Package deploy runs a batch of metric view definitions against the warehouse. Each
// view is deployed on its own; a failing view never stops the rest of the batch.
package deploy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"metricdrop/internal/ddl"
	"metricdrop/internal/definition"
	"metricdrop/internal/observability"
	"metricdrop/internal/warehouse"
	"metricdrop/pkg/errors"
	"metricdrop/pkg/models"
)

// Execer runs one statement. *warehouse.Service satisfies it.
type Execer interface {
	Exec(ctx context.Context, statement string) error
}

// Status of one view in a batch.
type Status string

const (
	StatusDeployed Status = "deployed"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
)

// ViewResult is the outcome for one view.
type ViewResult struct {
	Name       string
	File       string
	Target     definition.ResolvedTarget
	Status     Status
	Err        error
	SQL        string
	Duration   time.Duration
	TagWarning error
}

// BatchResult holds the per-view results in discovery order.
type BatchResult struct {
	Views    []ViewResult
	DryRun   bool
	Started  time.Time
	Finished time.Time
}

// Succeeded counts deployed views, or generated ones in a dry run.
func (b *BatchResult) Succeeded() int {
	return b.count(StatusDeployed) + b.count(StatusSkipped)
}

// Failed counts views that failed at any stage.
func (b *BatchResult) Failed() int {
	return b.count(StatusFailed)
}

func (b *BatchResult) count(status Status) int {
	n := 0
	for _, v := range b.Views {
		if v.Status == status {
			n++
		}
	}
	return n
}

// Duration is the wall time of the batch.
func (b *BatchResult) Duration() time.Duration {
	return b.Finished.Sub(b.Started)
}

// Err is non-nil when at least one view failed.
func (b *BatchResult) Err() error {
	failed := b.Failed()
	if failed == 0 {
		return nil
	}

	err := errors.New(errors.ErrCodeDeploymentFailed,
		fmt.Sprintf("%d of %d views failed to deploy", failed, len(b.Views)))
	var names []string
	for _, v := range b.Views {
		if v.Status == StatusFailed {
			names = append(names, v.Name)
		}
	}
	return err.WithContext("failed_views", names)
}

// Observer is notified as the batch progresses.
type Observer interface {
	ViewStarted(index, total int, name string)
	ViewFinished(index, total int, result ViewResult)
}

// Options configure a run.
type Options struct {
	DefaultCatalog   string
	DefaultSchema    string
	DryRun           bool
	CertificationTag string
}

// Executor deploys definition sets.
type Executor struct {
	exec      Execer
	opts      Options
	logger    *observability.Logger
	observers []Observer
}

// NewExecutor creates an executor. exec may be nil for dry runs.
func NewExecutor(exec Execer, opts Options, logger *observability.Logger) *Executor {
	if logger == nil {
		logger = observability.Discard()
	}
	if opts.CertificationTag == "" {
		opts.CertificationTag = models.DefaultCertificationTag
	}
	return &Executor{exec: exec, opts: opts, logger: logger}
}

// AddObserver registers an observer.
func (e *Executor) AddObserver(o Observer) {
	e.observers = append(e.observers, o)
}

type batchItem struct {
	path    string
	def     *definition.ViewDefinition
	loadErr *definition.LoadError
}

// Run deploys every definition in the set, including a failed entry for each file that
// did not load. Results follow file discovery order.
func (e *Executor) Run(ctx context.Context, set *definition.Set) *BatchResult {
	items := make([]batchItem, 0, set.Len())
	for _, def := range set.Definitions {
		items = append(items, batchItem{path: def.Path, def: def})
	}
	for i := range set.Errors {
		items = append(items, batchItem{path: set.Errors[i].Path, loadErr: &set.Errors[i]})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].path < items[j].path })

	batch := &BatchResult{DryRun: e.opts.DryRun, Started: time.Now()}
	total := len(items)

	for i, item := range items {
		var result ViewResult
		if item.loadErr != nil {
			e.notifyStarted(i+1, total, item.loadErr.Name)
			result = ViewResult{
				Name:   item.loadErr.Name,
				File:   item.loadErr.Path,
				Status: StatusFailed,
				Err:    item.loadErr.Err,
			}
		} else {
			e.notifyStarted(i+1, total, item.def.Name)
			result = e.deployView(ctx, item.def)
		}

		e.logResult(result)
		batch.Views = append(batch.Views, result)
		e.notifyFinished(i+1, total, result)

		if ctx.Err() != nil {
			e.logger.Warn("deployment interrupted; remaining views not attempted")
			break
		}
	}

	batch.Finished = time.Now()
	return batch
}

// deployView resolves, generates and executes one view.
func (e *Executor) deployView(ctx context.Context, def *definition.ViewDefinition) ViewResult {
	start := time.Now()
	result := ViewResult{Name: def.Name, File: def.Path}

	target, err := definition.ResolveTarget(def, e.opts.DefaultCatalog, e.opts.DefaultSchema)
	result.Target = target
	if err != nil {
		return e.fail(result, start, err)
	}

	sql, err := ddl.Generate(def, target)
	if err != nil {
		return e.fail(result, start, err)
	}
	result.SQL = sql

	if e.opts.DryRun {
		result.Status = StatusSkipped
		result.Duration = time.Since(start)
		return result
	}

	if e.exec == nil {
		return e.fail(result, start, errors.New(errors.ErrCodeConnectionFailed, "No warehouse connection"))
	}

	if err := e.exec.Exec(ctx, sql); err != nil {
		if warehouse.IsTargetNotFound(err) {
			err = errors.TargetNotFoundError(target.String(), err)
		}
		return e.fail(result, start, err)
	}
	result.Status = StatusDeployed

	tagSQL := ddl.TagStatement(def.Name, target, e.opts.CertificationTag)
	if err := e.exec.Exec(ctx, tagSQL); err != nil {
		result.TagWarning = err
	}

	result.Duration = time.Since(start)
	return result
}

func (e *Executor) fail(result ViewResult, start time.Time, err error) ViewResult {
	result.Status = StatusFailed
	result.Err = err
	result.Duration = time.Since(start)
	return result
}

func (e *Executor) logResult(result ViewResult) {
	fields := map[string]interface{}{
		"view":        result.Name,
		"target":      result.Target.String(),
		"status":      string(result.Status),
		"duration_ms": result.Duration.Milliseconds(),
	}
	if result.File != "" {
		fields["file"] = result.File
	}

	switch {
	case result.Err != nil:
		fields["error"] = result.Err.Error()
		fields["error_code"] = string(errors.GetErrorCode(result.Err))
		e.logger.ErrorWithFields("view deployment failed", fields)
	case result.TagWarning != nil:
		fields["tag"] = e.opts.CertificationTag
		fields["error"] = result.TagWarning.Error()
		e.logger.WarnWithFields("view deployed but tag was not applied", fields)
	default:
		e.logger.InfoWithFields("view processed", fields)
	}
}

func (e *Executor) notifyStarted(index, total int, name string) {
	for _, o := range e.observers {
		o.ViewStarted(index, total, name)
	}
}

func (e *Executor) notifyFinished(index, total int, result ViewResult) {
	for _, o := range e.observers {
		o.ViewFinished(index, total, result)
	}
}
