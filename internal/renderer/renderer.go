// Package renderer substitutes {path.to.value} placeholders and evaluates
// {% if %} blocks against a template data tree. Render is pure.
package renderer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)\}`)
	conditionalPattern = regexp.MustCompile(`(?s)\{%\s*if\s+(.+?)\s*%\}(.*?)\{%\s*endif\s*%\}`)
	conditionPattern   = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)\s*(==|!=|>=|<=|>|<)\s*(.+)$`)
)

// Render evaluates conditional blocks, then replaces every resolvable
// placeholder. Unresolved placeholders stay in the output verbatim.
func Render(template string, data map[string]interface{}) string {
	out := conditionalPattern.ReplaceAllStringFunc(template, func(block string) string {
		m := conditionalPattern.FindStringSubmatch(block)
		if evaluate(m[1], data) {
			return m[2]
		}
		return ""
	})

	return placeholderPattern.ReplaceAllStringFunc(out, func(ph string) string {
		path := ph[1 : len(ph)-1]
		value, ok := Lookup(data, path)
		if !ok {
			return ph
		}
		s, ok := stringify(value)
		if !ok {
			return ph
		}
		return s
	})
}

// Lookup walks a dotted path through nested maps.
func Lookup(data map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = data
	for _, key := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// Placeholders lists the distinct paths referenced by a template, in order of first use.
func Placeholders(template string) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			paths = append(paths, m[1])
		}
	}
	return paths
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[string]string:
		out := make(map[string]interface{}, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}

func stringify(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, bool:
		return fmt.Sprint(t), true
	case fmt.Stringer:
		return t.String(), true
	}
	return "", false
}

func evaluate(condition string, data map[string]interface{}) bool {
	m := conditionPattern.FindStringSubmatch(strings.TrimSpace(condition))
	if m == nil {
		// bare path: truthiness
		value, ok := Lookup(data, strings.TrimSpace(condition))
		return ok && truthy(value)
	}

	value, ok := Lookup(data, m[1])
	if !ok {
		return false
	}
	left, ok := stringify(value)
	if !ok {
		return false
	}
	right := unquote(strings.TrimSpace(m[3]))
	op := m[2]

	lnum, lerr := strconv.ParseFloat(left, 64)
	rnum, rerr := strconv.ParseFloat(right, 64)
	numeric := lerr == nil && rerr == nil

	switch op {
	case "==":
		if numeric {
			return lnum == rnum
		}
		return left == right
	case "!=":
		if numeric {
			return lnum != rnum
		}
		return left != right
	}

	if !numeric {
		return false
	}
	switch op {
	case ">":
		return lnum > rnum
	case "<":
		return lnum < rnum
	case ">=":
		return lnum >= rnum
	case "<=":
		return lnum <= rnum
	}
	return false
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "false"
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return true
}
