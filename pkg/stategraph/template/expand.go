// Package template expands ${var} and $var placeholders in strings and
// nested maps. The config loader uses it to substitute environment
// variables into graph configuration; callers can also expand node
// arguments against run state.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	bracePattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

	// Word boundary keeps $port from matching inside $portNumber.
	dollarPattern = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)(?:\b|$)`)
)

// MissingAction selects what happens when a placeholder has no value.
type MissingAction int

const (
	// MissingKeep leaves the placeholder text untouched.
	MissingKeep MissingAction = iota
	// MissingEmpty replaces the placeholder with the empty string.
	MissingEmpty
	// MissingError collects the names and fails the expansion.
	MissingError
)

// Expander expands placeholders. Safe for concurrent use after
// construction.
type Expander struct {
	missingAction MissingAction
	braceStyle    bool
	dollarStyle   bool
}

// Option configures an Expander.
type Option func(*Expander)

// WithMissingAction sets the policy for unresolved placeholders.
func WithMissingAction(action MissingAction) Option {
	return func(e *Expander) {
		e.missingAction = action
	}
}

// WithBraceStyle toggles ${var} expansion.
func WithBraceStyle(enabled bool) Option {
	return func(e *Expander) {
		e.braceStyle = enabled
	}
}

// WithDollarStyle toggles bare $var expansion.
func WithDollarStyle(enabled bool) Option {
	return func(e *Expander) {
		e.dollarStyle = enabled
	}
}

// NewExpander creates an Expander. Defaults: both styles enabled,
// missing placeholders kept as-is.
func NewExpander(opts ...Option) *Expander {
	e := &Expander{
		braceStyle:  true,
		dollarStyle: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand substitutes placeholders in s from vars. An error is only
// possible with MissingError.
func (e *Expander) Expand(s string, vars map[string]any) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	replace := func(match, name string) string {
		if val, ok := vars[name]; ok {
			return fmt.Sprintf("%v", val)
		}
		switch e.missingAction {
		case MissingEmpty:
			return ""
		case MissingError:
			missing = append(missing, name)
		}
		return match
	}

	result := s
	if e.braceStyle {
		result = bracePattern.ReplaceAllStringFunc(result, func(match string) string {
			return replace(match, match[2:len(match)-1])
		})
	}
	if e.dollarStyle {
		result = dollarPattern.ReplaceAllStringFunc(result, func(match string) string {
			return replace(match, match[1:])
		})
	}

	if len(missing) > 0 {
		return result, &UndefinedVariableError{Names: missing}
	}
	return result, nil
}

// ExpandAll expands each string in ss. With MissingError, the first
// failing string aborts the whole batch.
func (e *Expander) ExpandAll(ss []string, vars map[string]any) ([]string, error) {
	if ss == nil {
		return nil, nil
	}
	results := make([]string, len(ss))
	for i, s := range ss {
		expanded, err := e.Expand(s, vars)
		if err != nil {
			return nil, err
		}
		results[i] = expanded
	}
	return results, nil
}

// ExpandMap expands every string value in m, recursing into nested
// map[string]any and []any values. Non-string leaves are copied as-is.
func (e *Expander) ExpandMap(m map[string]any, vars map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		expanded, err := e.expandValue(v, vars)
		if err != nil {
			return nil, err
		}
		result[k] = expanded
	}
	return result, nil
}

func (e *Expander) expandValue(v any, vars map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return e.Expand(val, vars)
	case map[string]any:
		return e.ExpandMap(val, vars)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			expanded, err := e.expandValue(item, vars)
			if err != nil {
				return nil, err
			}
			result[i] = expanded
		}
		return result, nil
	default:
		return v, nil
	}
}

// UndefinedVariableError reports placeholders that had no value under
// MissingError.
type UndefinedVariableError struct {
	Names []string
}

func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}

var defaultExpander = NewExpander()

// Expand substitutes placeholders with the default expander, keeping
// unresolved ones as-is.
func Expand(s string, vars map[string]any) string {
	result, _ := defaultExpander.Expand(s, vars)
	return result
}

// ExpandMap expands a map with the default expander, keeping
// unresolved placeholders as-is.
func ExpandMap(m map[string]any, vars map[string]any) map[string]any {
	result, _ := defaultExpander.ExpandMap(m, vars)
	return result
}
