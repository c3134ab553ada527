package definition

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"metricdrop/internal/common"
	"metricdrop/internal/observability"
	"metricdrop/internal/template"
	apperrors "metricdrop/pkg/errors"
)

var (
	plainSuffixes     = []string{".yml", ".yaml"}
	templatedSuffixes = []string{".j2", ".jinja2"}
)

// Options controls how a directory is loaded.
type Options struct {
	// Context is used to render templated files and placeholders in plain files.
	Context template.Context
	// SkipTemplated leaves templated files out of the set; they are listed in Set.Skipped.
	SkipTemplated bool
	Logger        *observability.Logger
}

// IsTemplated reports whether a file name carries a template suffix.
func IsTemplated(name string) bool {
	return common.HasSuffix(name, templatedSuffixes...)
}

// IsDefinitionFile reports whether a file name is a plain or templated definition.
func IsDefinitionFile(name string) bool {
	return common.HasSuffix(name, plainSuffixes...) || IsTemplated(name)
}

// ViewName derives the view name from a definition file name.
func ViewName(path string) string {
	name := filepath.Base(path)
	for _, suffix := range templatedSuffixes {
		name = strings.TrimSuffix(name, suffix)
	}
	for _, suffix := range plainSuffixes {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

// Load discovers every definition file directly inside dir, in lexical order, and
// parses it. Files that fail are recorded in Set.Errors and do not stop the others.
// Only a missing or unreadable directory is returned as an error.
func Load(dir string, opts Options) (*Set, error) {
	logger := opts.Logger
	if logger == nil {
		logger = observability.Discard()
	}

	cleanDir, err := common.CleanPath(dir)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDefinitionsMissing, "Invalid definitions directory")
	}

	suffixes := append(append([]string{}, plainSuffixes...), templatedSuffixes...)
	files, err := common.ListFiles(cleanDir, suffixes...)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.New(apperrors.ErrCodeDefinitionsMissing,
				fmt.Sprintf("Definitions directory %s does not exist", dir)).
				WithContext("dir", dir).
				WithSuggestions("Pass --definitions-dir or set definitions_dir in metricdrop.yaml")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeFileOperation, "Failed to list definitions")
	}

	set := NewSet(dir)
	for _, path := range files {
		name := ViewName(path)
		templated := IsTemplated(path)

		if templated && opts.SkipTemplated {
			set.Skipped = append(set.Skipped, path)
			continue
		}

		def, err := LoadFile(path, opts.Context, logger)
		if err != nil {
			logger.WarnWithFields("definition failed to load", map[string]interface{}{
				"view":  name,
				"file":  path,
				"error": err.Error(),
			})
			set.Errors = append(set.Errors, LoadError{Name: name, Path: path, Err: err})
			continue
		}

		if !set.add(def) {
			dup := apperrors.DefinitionParseError(path,
				fmt.Errorf("view name '%s' is already defined by another file", name))
			set.Errors = append(set.Errors, LoadError{Name: name, Path: path, Err: dup})
			continue
		}
		logger.DebugWithFields("definition loaded", map[string]interface{}{
			"view":      name,
			"file":      path,
			"templated": templated,
		})
	}

	return set, nil
}

// LoadFile reads, renders and parses one definition file.
func LoadFile(path string, ctx template.Context, logger *observability.Logger) (*ViewDefinition, error) {
	if logger == nil {
		logger = observability.Discard()
	}

	data, err := os.ReadFile(path) // #nosec G304 - path comes from directory listing
	if err != nil {
		return nil, apperrors.DefinitionParseError(path, err)
	}

	text := string(data)
	templated := IsTemplated(path)
	switch {
	case templated:
		text, err = template.RenderString(text, path, ctx)
		if err != nil {
			return nil, err
		}
	case template.HasPlaceholders(text):
		// Plain files are rendered best effort and used as written when that fails.
		rendered, renderErr := template.RenderString(text, path, ctx)
		if renderErr != nil {
			logger.DebugWithFields("using plain definition without rendering", map[string]interface{}{
				"file":  path,
				"error": renderErr.Error(),
			})
		} else {
			text = rendered
		}
	}

	body, err := ParseBody([]byte(text))
	if err != nil {
		return nil, apperrors.DefinitionParseError(path, err)
	}

	return &ViewDefinition{
		Name:      ViewName(path),
		Path:      path,
		Templated: templated,
		Body:      *body,
	}, nil
}

// ParseBody decodes a definition document. Unknown keys are rejected.
func ParseBody(data []byte) (*Body, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var body Body
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("definition is empty")
		}
		return nil, err
	}
	return &body, nil
}

// ResolvedTarget is the catalog and schema a view is deployed into.
type ResolvedTarget struct {
	Catalog    string
	Schema     string
	Overridden bool
}

// String renders the target as catalog.schema.
func (t ResolvedTarget) String() string {
	return t.Catalog + "." + t.Schema
}

// ResolveTarget picks the deployment location for def: each field of the definition's
// deployment block wins over the run default.
func ResolveTarget(def *ViewDefinition, defaultCatalog, defaultSchema string) (ResolvedTarget, error) {
	target := ResolvedTarget{Catalog: defaultCatalog, Schema: defaultSchema}

	if d := def.Body.Deployment; d != nil {
		if d.Catalog != "" {
			target.Catalog = d.Catalog
			target.Overridden = true
		}
		if d.Schema != "" {
			target.Schema = d.Schema
			target.Overridden = true
		}
	}

	if target.Catalog == "" || target.Schema == "" {
		return target, apperrors.New(apperrors.ErrCodeTargetUnset,
			fmt.Sprintf("No catalog/schema resolved for view %s", def.Name)).
			WithContext("view", def.Name).
			WithSuggestions(
				"Set catalog and schema for the environment in config/environments.yml",
				"Or pass --catalog and --schema",
			)
	}
	return target, nil
}
