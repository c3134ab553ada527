// Package definition loads metric view definitions from disk and resolves where each
// one is deployed.
package definition

import (
	"sort"

	"gopkg.in/yaml.v3"
)

// ViewDefinition is one parsed definition file. It is not modified after loading.
type ViewDefinition struct {
	Name      string
	Path      string
	Templated bool
	Body      Body
}

// Body is the metric view document. Deployment is routing metadata only and is never
// part of the generated view body.
type Body struct {
	Version    Version           `yaml:"version,omitempty"`
	Source     string            `yaml:"source,omitempty"`
	Comment    string            `yaml:"comment,omitempty"`
	Filter     string            `yaml:"filter,omitempty"`
	Joins      []Join            `yaml:"joins,omitempty"`
	Dimensions []Field           `yaml:"dimensions,omitempty"`
	Measures   []Field           `yaml:"measures,omitempty"`
	Tags       map[string]string `yaml:"tags,omitempty"`
	Deployment *Deployment       `yaml:"deployment,omitempty"`
}

// Field is a dimension or a measure.
type Field struct {
	Name        string   `yaml:"name"`
	Expr        string   `yaml:"expr"`
	Comment     string   `yaml:"comment,omitempty"`
	DisplayName string   `yaml:"display_name,omitempty"`
	Synonyms    []string `yaml:"synonyms,omitempty"`
}

// Join is a star or snowflake join; joins may nest.
type Join struct {
	Name   string   `yaml:"name"`
	Source string   `yaml:"source"`
	On     string   `yaml:"on,omitempty"`
	Using  []string `yaml:"using,omitempty"`
	Joins  []Join   `yaml:"joins,omitempty"`
}

// Deployment overrides the run's default catalog and schema. Each field overrides
// independently.
type Deployment struct {
	Catalog string `yaml:"catalog,omitempty"`
	Schema  string `yaml:"schema,omitempty"`
}

// Version keeps the definition version exactly as written. It is emitted as a plain
// scalar so "0.1" stays 0.1 in the generated body.
type Version string

// MarshalYAML implements yaml.Marshaler.
func (v Version) MarshalYAML() (interface{}, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: string(v)}, nil
}

// Columns returns dimension names followed by measure names in declaration order.
func (d *ViewDefinition) Columns() []string {
	columns := make([]string, 0, len(d.Body.Dimensions)+len(d.Body.Measures))
	for _, dim := range d.Body.Dimensions {
		columns = append(columns, dim.Name)
	}
	for _, m := range d.Body.Measures {
		columns = append(columns, m.Name)
	}
	return columns
}

// LoadError records a file that could not be turned into a definition.
type LoadError struct {
	Name string
	Path string
	Err  error
}

func (e LoadError) Error() string {
	return e.Err.Error()
}

func (e LoadError) Unwrap() error {
	return e.Err
}

// Set is the ordered result of loading a directory. Definitions are in discovery order.
type Set struct {
	Dir         string
	Definitions []*ViewDefinition
	Errors      []LoadError
	Skipped     []string

	byName map[string]*ViewDefinition
}

// NewSet builds a set from already parsed definitions. Later duplicates are dropped.
func NewSet(dir string, defs ...*ViewDefinition) *Set {
	s := &Set{Dir: dir, byName: make(map[string]*ViewDefinition)}
	for _, def := range defs {
		s.add(def)
	}
	return s
}

func (s *Set) add(def *ViewDefinition) bool {
	if _, exists := s.byName[def.Name]; exists {
		return false
	}
	s.byName[def.Name] = def
	s.Definitions = append(s.Definitions, def)
	return true
}

// Get returns the definition with the given view name.
func (s *Set) Get(name string) (*ViewDefinition, bool) {
	def, ok := s.byName[name]
	return def, ok
}

// Names returns the view names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len is the number of files discovered, including those that failed to load.
func (s *Set) Len() int {
	return len(s.Definitions) + len(s.Errors)
}
