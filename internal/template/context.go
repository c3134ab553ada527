package template

import (
	"fmt"
	"sort"
)

// Reserved top-level names.
const (
	EnvironmentKey = "environment"
	GlobalKey      = "global"
)

// Context is the immutable set of values placeholders resolve against. Vars holds the
// environment's values merged over the global ones; Global is the unmerged global
// namespace reachable as "global.<key>".
type Context struct {
	environment string
	vars        map[string]interface{}
	global      map[string]interface{}
}

// NewContext builds a context. The maps are deep-copied so later changes by the caller
// are not observed.
func NewContext(environment string, vars, global map[string]interface{}) Context {
	c := Context{
		environment: environment,
		vars:        copyMap(vars),
	}
	if global != nil {
		c.global = copyMap(global)
	}
	return c
}

// Environment returns the environment name the context was built for.
func (c Context) Environment() string {
	return c.environment
}

// With returns a new context whose vars are overlaid with overrides.
func (c Context) With(overrides map[string]interface{}) Context {
	vars := copyMap(c.vars)
	for k, v := range overrides {
		vars[k] = copyValue(v)
	}
	return Context{environment: c.environment, vars: vars, global: c.global}
}

// Get returns the value of a top-level name.
func (c Context) Get(name string) (interface{}, bool) {
	if v, ok := c.vars[name]; ok {
		return v, true
	}
	switch name {
	case GlobalKey:
		if c.global != nil {
			return c.global, true
		}
	case EnvironmentKey:
		if c.environment != "" {
			return c.environment, true
		}
	}
	return nil, false
}

// String returns the value of a top-level name rendered as text, or "" when absent.
func (c Context) String(name string) string {
	v, ok := c.Get(name)
	if !ok || v == nil {
		return ""
	}
	return formatValue(v)
}

// Keys lists the top-level names, sorted.
func (c Context) Keys() []string {
	seen := map[string]bool{}
	for k := range c.vars {
		seen[k] = true
	}
	if c.global != nil {
		seen[GlobalKey] = true
	}
	if c.environment != "" {
		seen[EnvironmentKey] = true
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the context as a plain mapping, with the global namespace under
// "global". Used by "environment show".
func (c Context) Map() map[string]interface{} {
	out := copyMap(c.vars)
	if c.global != nil {
		if _, shadowed := out[GlobalKey]; !shadowed {
			out[GlobalKey] = copyMap(c.global)
		}
	}
	return out
}

// lookupChild indexes one level into a mapping or list.
func lookupChild(v interface{}, key string) (interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		child, ok := m[key]
		return child, ok
	case map[interface{}]interface{}:
		child, ok := m[key]
		return child, ok
	case map[string]string:
		child, ok := m[key]
		return child, ok
	case []interface{}:
		var idx int
		if _, err := fmt.Sscanf(key, "%d", &idx); err != nil || idx < 0 || idx >= len(m) {
			return nil, false
		}
		return m[idx], true
	}
	return nil, false
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyMap(t)
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = copyValue(val)
		}
		return out
	case map[string]string:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = val
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	default:
		return v
	}
}
