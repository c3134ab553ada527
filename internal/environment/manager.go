// Package environment loads config/environments.yml and turns one environment into the
// template context and run defaults used by deploy and test.
package environment

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"metricdrop/internal/common"
	"metricdrop/internal/template"
	"metricdrop/pkg/errors"
)

// GlobalKey is the reserved section holding values shared by every environment.
const GlobalKey = "global"

// RequiredFields must be present in every environment once merged with global.
var RequiredFields = []string{"catalog", "schema", "warehouse_id"}

// Manager holds the parsed environments file.
type Manager struct {
	path   string
	names  []string
	envs   map[string]interface{}
	global map[string]interface{}
}

// Settings are the run defaults of an environment.
type Settings struct {
	Environment string
	Catalog     string
	Schema      string
	WarehouseID string
	Tags        map[string]string
}

// Load reads and parses an environments file. Environment order follows the file.
func Load(path string) (*Manager, error) {
	cleanPath, err := common.CleanPath(path)
	if err != nil {
		return nil, errors.ConfigError(err.Error(), "environments_file")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 - path is cleaned
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeConfigNotFound, fmt.Sprintf("Environment configuration not found: %s", path)).
				WithSeverity(errors.SeverityCritical).
				WithSuggestions(
					"Create config/environments.yml or set environments_file in metricdrop.yaml",
					"Run 'metricdrop init' to scaffold a project",
				)
		}
		return nil, errors.Wrap(err, errors.ErrCodeFileOperation, fmt.Sprintf("Failed to read %s", path))
	}

	return Parse(data, path)
}

// Parse parses environments file content. path is only used in messages.
func Parse(data []byte, path string) (*Manager, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, fmt.Sprintf("Invalid YAML in %s", path)).
			WithSeverity(errors.SeverityCritical)
	}

	m := &Manager{path: path, envs: map[string]interface{}{}}
	if len(doc.Content) == 0 {
		return m, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.ConfigError(fmt.Sprintf("%s must be a mapping of environment names", path), "environments_file")
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		var value interface{}
		if err := root.Content[i+1].Decode(&value); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, fmt.Sprintf("Invalid environment '%s'", name))
		}

		if name == GlobalKey {
			global, ok := asMap(value)
			if !ok {
				return nil, errors.ConfigError("the global section must be a mapping", GlobalKey)
			}
			m.global = global
			continue
		}

		m.names = append(m.names, name)
		m.envs[name] = value
	}

	return m, nil
}

// Path returns the file the manager was loaded from.
func (m *Manager) Path() string {
	return m.path
}

// List returns environment names in file order, excluding global.
func (m *Manager) List() []string {
	return append([]string(nil), m.names...)
}

// Has reports whether env is defined.
func (m *Manager) Has(env string) bool {
	_, ok := m.envs[env]
	return ok
}

// Global returns a copy of the global section.
func (m *Manager) Global() map[string]interface{} {
	if m.global == nil {
		return nil
	}
	return shallowCopy(m.global)
}

// Config returns the environment merged over the global section.
func (m *Manager) Config(env string) (map[string]interface{}, error) {
	raw, ok := m.envs[env]
	if !ok {
		return nil, m.notFound(env)
	}

	merged := shallowCopy(m.global)
	envMap, ok := asMap(raw)
	if !ok {
		if raw != nil {
			return nil, errors.ConfigError(fmt.Sprintf("environment '%s' must be a mapping", env), env)
		}
		envMap = map[string]interface{}{}
	}
	for k, v := range envMap {
		merged[k] = v
	}
	return merged, nil
}

// Context builds the template context for env.
func (m *Manager) Context(env string) (template.Context, error) {
	cfg, err := m.Config(env)
	if err != nil {
		return template.Context{}, err
	}
	return template.NewContext(env, cfg, m.global), nil
}

// Settings returns the typed run defaults of env.
func (m *Manager) Settings(env string) (Settings, error) {
	cfg, err := m.Config(env)
	if err != nil {
		return Settings{}, err
	}

	s := Settings{
		Environment: env,
		Catalog:     scalar(cfg["catalog"]),
		Schema:      scalar(cfg["schema"]),
		WarehouseID: scalar(cfg["warehouse_id"]),
		Tags:        map[string]string{},
	}
	if tags, ok := asMap(cfg["tags"]); ok {
		for k, v := range tags {
			s.Tags[k] = scalar(v)
		}
	}
	return s, nil
}

// Validate returns the problems found in one environment. An empty slice means valid.
func (m *Manager) Validate(env string) []string {
	cfg, err := m.Config(env)
	if err != nil {
		var appErr *errors.AppError
		if errors.As(err, &appErr) {
			return []string{appErr.Message}
		}
		return []string{err.Error()}
	}

	var issues []string
	for _, field := range RequiredFields {
		if _, ok := cfg[field]; !ok {
			issues = append(issues, fmt.Sprintf("Missing required field '%s' in environment '%s'", field, env))
		}
	}

	if id, ok := cfg["warehouse_id"]; ok {
		if _, isString := id.(string); !isString {
			issues = append(issues, fmt.Sprintf("warehouse_id must be a string in environment '%s'", env))
		}
	}

	if tags, ok := cfg["tags"]; ok {
		if _, isMap := asMap(tags); !isMap {
			issues = append(issues, fmt.Sprintf("tags must be a dictionary in environment '%s'", env))
		}
	}

	return issues
}

// ValidateAll validates every environment, or only env when it is non-empty.
func (m *Manager) ValidateAll(env string) map[string][]string {
	names := m.names
	if env != "" {
		names = []string{env}
	}

	report := make(map[string][]string, len(names))
	for _, name := range names {
		report[name] = m.Validate(name)
	}
	return report
}

func (m *Manager) notFound(env string) error {
	available := m.List()
	return errors.New(errors.ErrCodeEnvironmentNotFound,
		fmt.Sprintf("Environment '%s' not found. Available: %s", env, strings.Join(available, ", "))).
		WithContext("environment", env).
		WithSeverity(errors.SeverityCritical).
		WithSuggestions(fmt.Sprintf("Add '%s' to %s or pick one of the listed environments", env, m.path))
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func shallowCopy(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func scalar(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
