package template

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"metricdrop/internal/common"
)

// RenderString renders a template held in memory. file is only used in error messages.
// Failures are *errors.AppError values: MDE2002 for undefined variables, MDE2003 for
// syntax and evaluation errors.
func RenderString(input, file string, ctx Context) (string, error) {
	tmpl, err := Parse(input, file)
	if err != nil {
		return "", toAppError(err, file)
	}
	out, err := tmpl.Execute(ctx)
	if err != nil {
		return "", toAppError(err, file)
	}
	return out, nil
}

// RenderFile reads and renders a template file.
func RenderFile(path string, ctx Context) (string, error) {
	cleanPath, err := common.CleanPath(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(cleanPath) // #nosec G304 - path is cleaned
	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", path, err)
	}
	return RenderString(string(data), path, ctx)
}

// HasPlaceholders reports whether input contains any template markup.
func HasPlaceholders(input string) bool {
	return strings.Contains(input, "{{") || strings.Contains(input, "{%") || strings.Contains(input, "{#")
}

// Execute renders a parsed template.
func (t *Template) Execute(ctx Context) (string, error) {
	r := &renderer{ctx: ctx}
	var b strings.Builder
	if err := r.renderNodes(&b, t.Nodes); err != nil {
		return "", err
	}
	return b.String(), nil
}

type renderer struct {
	ctx    Context
	scopes []map[string]interface{}
}

// missing describes a lookup that did not resolve. top is set when the first segment
// itself is unknown.
type missing struct {
	name string
	top  bool
}

func (r *renderer) renderNodes(b *strings.Builder, nodes []Node) error {
	for _, n := range nodes {
		if err := r.renderNode(b, n); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) renderNode(b *strings.Builder, n Node) error {
	switch node := n.(type) {
	case *TextNode:
		b.WriteString(node.Text)
		return nil

	case *ExprNode:
		v, miss, err := r.eval(node.expr, node.Pos())
		if err != nil {
			return err
		}
		if miss != nil {
			return newUndefinedError(node.Pos(), miss.name)
		}
		b.WriteString(formatValue(v))
		return nil

	case *IfBlock:
		ok, err := r.condition(node.cond, node.Pos())
		if err != nil {
			return err
		}
		if ok {
			return r.renderNodes(b, node.Body)
		}
		for _, branch := range node.ElseIfs {
			ok, err := r.condition(branch.cond, branch.pos)
			if err != nil {
				return err
			}
			if ok {
				return r.renderNodes(b, branch.Body)
			}
		}
		return r.renderNodes(b, node.Else)

	case *ForBlock:
		return r.renderFor(b, node)
	}

	return newRenderError(n.Pos(), "unsupported node %T", n)
}

func (r *renderer) renderFor(b *strings.Builder, node *ForBlock) error {
	v, miss, err := r.eval(node.iter, node.Pos())
	if err != nil {
		return err
	}
	if miss != nil {
		return newUndefinedError(node.Pos(), miss.name)
	}

	type pair struct {
		key   interface{}
		value interface{}
	}
	var items []pair

	switch coll := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(coll))
		for k := range coll {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			items = append(items, pair{key: k, value: coll[k]})
		}
	case []interface{}:
		if node.KeyVar != "" {
			return newRenderError(node.Pos(), "cannot unpack list items of '%s' into two variables", node.IterExpr)
		}
		for i, item := range coll {
			items = append(items, pair{key: i, value: item})
		}
	case nil:
	default:
		return newRenderError(node.Pos(), "'%s' is not iterable", node.IterExpr)
	}

	for i, item := range items {
		scope := map[string]interface{}{
			"loop": map[string]interface{}{
				"index":  i + 1,
				"index0": i,
				"first":  i == 0,
				"last":   i == len(items)-1,
				"length": len(items),
			},
		}
		if node.KeyVar != "" {
			scope[node.KeyVar] = item.key
			scope[node.ValueVar] = item.value
		} else if _, isMap := v.(map[string]interface{}); isMap {
			scope[node.ValueVar] = item.key
		} else {
			scope[node.ValueVar] = item.value
		}

		r.scopes = append(r.scopes, scope)
		err := r.renderNodes(b, node.Body)
		r.scopes = r.scopes[:len(r.scopes)-1]
		if err != nil {
			return err
		}
	}
	return nil
}

// condition evaluates a test. An unknown top-level name is an error; a missing nested
// key is false.
func (r *renderer) condition(e expr, pos Position) (bool, error) {
	v, miss, err := r.eval(e, pos)
	if err != nil {
		return false, err
	}
	if miss != nil {
		if miss.top {
			return false, newUndefinedError(pos, miss.name)
		}
		return false, nil
	}
	return truthy(v), nil
}

func (r *renderer) lookupTop(name string) (interface{}, bool) {
	for i := len(r.scopes) - 1; i >= 0; i-- {
		if v, ok := r.scopes[i][name]; ok {
			return v, true
		}
	}
	return r.ctx.Get(name)
}

func (r *renderer) eval(e expr, pos Position) (interface{}, *missing, error) {
	switch n := e.(type) {
	case *literalExpr:
		return n.value, nil, nil

	case *pathExpr:
		v, ok := r.lookupTop(n.segments[0])
		if !ok {
			return nil, &missing{name: n.String(), top: true}, nil
		}
		for _, seg := range n.segments[1:] {
			v, ok = lookupChild(v, seg)
			if !ok {
				return nil, &missing{name: n.String()}, nil
			}
		}
		return v, nil, nil

	case *filterExpr:
		v, miss, err := r.eval(n.target, pos)
		if err != nil {
			return nil, nil, err
		}
		if n.name == "default" {
			if miss != nil || v == nil {
				if len(n.args) == 0 {
					return "", nil, nil
				}
				return r.eval(n.args[0], pos)
			}
			return v, nil, nil
		}
		if miss != nil {
			return nil, miss, nil
		}
		s := formatValue(v)
		switch n.name {
		case "upper":
			return strings.ToUpper(s), nil, nil
		case "lower":
			return strings.ToLower(s), nil, nil
		case "trim":
			return strings.TrimSpace(s), nil, nil
		}
		return nil, nil, newRenderError(pos, "unknown filter '%s'", n.name)

	case *notExpr:
		ok, err := r.condition(n.operand, pos)
		if err != nil {
			return nil, nil, err
		}
		return !ok, nil, nil

	case *binaryExpr:
		return r.evalBinary(n, pos)
	}

	return nil, nil, newRenderError(pos, "unsupported expression %s", e)
}

func (r *renderer) evalBinary(n *binaryExpr, pos Position) (interface{}, *missing, error) {
	switch n.op {
	case "and":
		left, err := r.condition(n.left, pos)
		if err != nil || !left {
			return false, nil, err
		}
		right, err := r.condition(n.right, pos)
		return right, nil, err
	case "or":
		left, err := r.condition(n.left, pos)
		if err != nil || left {
			return left, nil, err
		}
		right, err := r.condition(n.right, pos)
		return right, nil, err
	}

	left, lmiss, err := r.operand(n.left, pos)
	if err != nil {
		return nil, nil, err
	}
	right, rmiss, err := r.operand(n.right, pos)
	if err != nil {
		return nil, nil, err
	}

	switch n.op {
	case "==":
		if lmiss || rmiss {
			return lmiss && rmiss, nil, nil
		}
		return equal(left, right), nil, nil
	case "!=":
		if lmiss || rmiss {
			return !(lmiss && rmiss), nil, nil
		}
		return !equal(left, right), nil, nil
	case "in", "not in":
		found := false
		if !lmiss && !rmiss {
			found = contains(right, left)
		}
		if n.op == "in" {
			return found, nil, nil
		}
		return !found, nil, nil
	}

	return nil, nil, newRenderError(pos, "unsupported operator '%s'", n.op)
}

// operand evaluates one side of a comparison, reporting nested misses as undefined.
func (r *renderer) operand(e expr, pos Position) (interface{}, bool, error) {
	v, miss, err := r.eval(e, pos)
	if err != nil {
		return nil, false, err
	}
	if miss != nil {
		if miss.top {
			return nil, false, newUndefinedError(pos, miss.name)
		}
		return nil, true, nil
	}
	return v, false, nil
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case map[string]interface{}:
		return len(t) > 0
	case []interface{}:
		return len(t) > 0
	}
	return true
}

func equal(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return formatValue(a) == formatValue(b)
}

func contains(coll, item interface{}) bool {
	switch c := coll.(type) {
	case []interface{}:
		for _, v := range c {
			if equal(v, item) {
				return true
			}
		}
	case map[string]interface{}:
		_, ok := c[formatValue(item)]
		return ok
	case string:
		return strings.Contains(c, formatValue(item))
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// formatValue renders a value the way it would appear as a YAML scalar. Mappings and
// lists use YAML flow style.
func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format(time.RFC3339)
	case []interface{}:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = formatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + formatValue(t[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprint(v)
}
