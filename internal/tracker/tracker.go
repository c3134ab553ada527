// Package tracker persists the outcome of each deploy run so that history, report and
// status can be served after the fact.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"metricdrop/internal/common"
	"metricdrop/internal/deploy"
	"metricdrop/internal/observability"
	"metricdrop/pkg/errors"
	"metricdrop/pkg/models"
)

const (
	deploymentsDir = "deployments"
	latestFile     = "latest.json"
	defaultMax     = 100
)

// Record statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// DeploymentRecord is the result of deploying one view.
type DeploymentRecord struct {
	ViewName        string    `json:"view_name"`
	FilePath        string    `json:"file_path"`
	Target          string    `json:"target,omitempty"`
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	Warning         string    `json:"warning,omitempty"`
	SQLGenerated    string    `json:"sql_generated,omitempty"`
}

// DeploymentSummary describes a whole deploy run.
type DeploymentSummary struct {
	DeploymentID          string             `json:"deployment_id"`
	TargetEnvironment     string             `json:"target_environment"`
	Catalog               string             `json:"catalog"`
	Schema                string             `json:"schema"`
	DryRun                bool               `json:"dry_run,omitempty"`
	Git                   *models.GitInfo    `json:"git,omitempty"`
	TotalFiles            int                `json:"total_files"`
	SuccessfulDeployments int                `json:"successful_deployments"`
	FailedDeployments     int                `json:"failed_deployments"`
	StartTime             time.Time          `json:"start_time"`
	EndTime               *time.Time         `json:"end_time,omitempty"`
	DurationSeconds       float64            `json:"duration_seconds,omitempty"`
	Records               []DeploymentRecord `json:"records"`
}

// Complete reports whether the run finished.
func (s *DeploymentSummary) Complete() bool {
	return s.EndTime != nil
}

// SuccessRate is the percentage of files deployed successfully.
func (s *DeploymentSummary) SuccessRate() float64 {
	if s.TotalFiles == 0 {
		return 0
	}
	return float64(s.SuccessfulDeployments) / float64(s.TotalFiles) * 100
}

// RunInfo identifies a deploy run when it starts.
type RunInfo struct {
	Environment string
	Catalog     string
	Schema      string
	TotalFiles  int
	DryRun      bool
	Git         *models.GitInfo
}

// Tracker records deploy runs under <state_dir>/deployments. It implements
// deploy.Observer so it can be attached to an executor.
type Tracker struct {
	dir        string
	maxHistory int
	logger     *observability.Logger
	now        func() time.Time

	mu      sync.Mutex
	current *DeploymentSummary
}

// New creates a tracker rooted at stateDir.
func New(stateDir string, logger *observability.Logger) (*Tracker, error) {
	dir := filepath.Join(stateDir, deploymentsDir)
	if err := os.MkdirAll(dir, common.DirPermissionNormal); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to create deployment history directory").
			WithContext("dir", dir)
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &Tracker{dir: dir, maxHistory: defaultMax, logger: logger, now: time.Now}, nil
}

// Dir is the directory holding the deployment files.
func (t *Tracker) Dir() string {
	return t.dir
}

// Start begins tracking a new run and returns its id. The in-progress summary is
// written as latest.json straight away so status can report it.
func (t *Tracker) Start(info RunInfo) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := t.now().UTC()
	summary := &DeploymentSummary{
		DeploymentID:      newID(info.Environment, start),
		TargetEnvironment: info.Environment,
		Catalog:           info.Catalog,
		Schema:            info.Schema,
		DryRun:            info.DryRun,
		Git:               info.Git,
		TotalFiles:        info.TotalFiles,
		StartTime:         start,
		Records:           []DeploymentRecord{},
	}
	t.current = summary

	t.logger.InfoWithFields("deployment started", map[string]interface{}{
		"deployment_id": summary.DeploymentID,
		"environment":   info.Environment,
		"files":         info.TotalFiles,
	})

	if err := t.write(filepath.Join(t.dir, latestFile), summary); err != nil {
		return summary.DeploymentID, err
	}
	return summary.DeploymentID, nil
}

// ViewStarted is a no-op; records are written when a view finishes.
func (t *Tracker) ViewStarted(int, int, string) {}

// ViewFinished records the result of one view.
func (t *Tracker) ViewFinished(_, _ int, result deploy.ViewResult) {
	if err := t.Record(result); err != nil {
		t.logger.WarnWithFields("failed to record view result", map[string]interface{}{
			"view":  result.Name,
			"error": err.Error(),
		})
	}
}

// Record appends a view result to the current run.
func (t *Tracker) Record(result deploy.ViewResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return errors.New(errors.ErrCodeInternal, "No deployment in progress")
	}

	record := DeploymentRecord{
		ViewName:        result.Name,
		FilePath:        result.File,
		Timestamp:       t.now().UTC(),
		DurationSeconds: result.Duration.Seconds(),
		SQLGenerated:    result.SQL,
	}

	if result.Target.Catalog != "" || result.Target.Schema != "" {
		record.Target = result.Target.String()
	}

	switch result.Status {
	case deploy.StatusDeployed:
		record.Status = StatusSuccess
		t.current.SuccessfulDeployments++
	case deploy.StatusSkipped:
		record.Status = StatusSkipped
		t.current.SuccessfulDeployments++
	default:
		record.Status = StatusFailed
		t.current.FailedDeployments++
	}
	if result.Err != nil {
		record.ErrorMessage = result.Err.Error()
	}
	if result.TagWarning != nil {
		record.Warning = result.TagWarning.Error()
	}

	t.current.Records = append(t.current.Records, record)
	return nil
}

// Finish closes the current run, saves it as <id>.json and latest.json, and prunes
// old runs beyond the history limit.
func (t *Tracker) Finish() (*DeploymentSummary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return nil, errors.New(errors.ErrCodeInternal, "No deployment in progress")
	}

	summary := t.current
	t.current = nil

	end := t.now().UTC()
	summary.EndTime = &end
	summary.DurationSeconds = end.Sub(summary.StartTime).Seconds()
	if total := len(summary.Records); total > summary.TotalFiles {
		summary.TotalFiles = total
	}

	if err := t.write(filepath.Join(t.dir, summary.DeploymentID+".json"), summary); err != nil {
		return summary, err
	}
	if err := t.write(filepath.Join(t.dir, latestFile), summary); err != nil {
		return summary, err
	}

	t.logger.InfoWithFields("deployment recorded", map[string]interface{}{
		"deployment_id": summary.DeploymentID,
		"successful":    summary.SuccessfulDeployments,
		"failed":        summary.FailedDeployments,
		"duration_s":    summary.DurationSeconds,
	})

	t.prune()
	return summary, nil
}

// History returns finished runs, newest first, optionally filtered by environment.
// A limit of zero or less returns everything.
func (t *Tracker) History(limit int, environment string) ([]*DeploymentSummary, error) {
	all, err := t.loadAll()
	if err != nil {
		return nil, err
	}

	var history []*DeploymentSummary
	for _, s := range all {
		if environment == "" || s.TargetEnvironment == environment {
			history = append(history, s)
		}
	}

	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

// Get loads one run by id.
func (t *Tracker) Get(id string) (*DeploymentSummary, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, `/\`) || id == strings.TrimSuffix(latestFile, ".json") {
		return nil, errors.New(errors.ErrCodeNotFound, "Deployment not found").
			WithContext("deployment_id", id)
	}

	summary, err := t.load(filepath.Join(t.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeNotFound, fmt.Sprintf("Deployment %s not found", id)).
				WithContext("deployment_id", id).
				WithSuggestions("Run 'metricdrop history' to list recorded deployments")
		}
		return nil, err
	}
	return summary, nil
}

// Latest returns the most recent run, finished or not.
func (t *Tracker) Latest() (*DeploymentSummary, error) {
	summary, err := t.load(filepath.Join(t.dir, latestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeNotFound, "No deployment records found").
				WithSuggestions("Run 'metricdrop deploy' first")
		}
		return nil, err
	}
	return summary, nil
}

func newID(environment string, start time.Time) string {
	if environment == "" {
		environment = "default"
	}
	return fmt.Sprintf("%s_%s_%s", environment, start.Format("20060102T150405Z"), uuid.NewString()[:8])
}

func (t *Tracker) write(path string, summary *DeploymentSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "Failed to encode deployment summary")
	}
	if err := os.WriteFile(path, data, common.FilePermissionSecure); err != nil {
		return errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to save deployment summary").
			WithContext("path", path)
	}
	return nil
}

func (t *Tracker) load(path string) (*DeploymentSummary, error) {
	validated, err := common.ValidatePath(path, t.dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "Invalid deployment file path")
	}

	data, err := os.ReadFile(validated) // #nosec G304 - path is validated
	if err != nil {
		return nil, err
	}

	var summary DeploymentSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "Corrupt deployment file").
			WithContext("path", path)
	}
	return &summary, nil
}

// loadAll reads every finished run, newest first. Unreadable files are skipped.
func (t *Tracker) loadAll() ([]*DeploymentSummary, error) {
	files, err := common.ListFiles(t.dir, ".json")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to list deployment history")
	}

	var summaries []*DeploymentSummary
	for _, f := range files {
		if filepath.Base(f) == latestFile {
			continue
		}
		summary, err := t.load(f)
		if err != nil {
			t.logger.WarnWithFields("skipping unreadable deployment file", map[string]interface{}{
				"file":  f,
				"error": err.Error(),
			})
			continue
		}
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})
	return summaries, nil
}

func (t *Tracker) prune() {
	all, err := t.loadAll()
	if err != nil || len(all) <= t.maxHistory {
		return
	}
	for _, s := range all[t.maxHistory:] {
		path := filepath.Join(t.dir, s.DeploymentID+".json")
		if err := os.Remove(path); err != nil {
			t.logger.WarnWithFields("failed to prune deployment file", map[string]interface{}{
				"file":  path,
				"error": err.Error(),
			})
		}
	}
}
