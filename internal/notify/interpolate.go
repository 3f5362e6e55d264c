// Package notify implements the audit worker's notification delivery
// for audit violations: it interpolates a violation's template context into a
// Slack message or a generic webhook body/headers, then delivers both in
// parallel, logging and continuing past per-sink failures.
package notify

import (
	"fmt"
	"strings"
	"unicode"
)

// Context is the template scope every notification template interpolates
// against: `{policy.name}` and `{output.*}`.
type Context struct {
	PolicyName string
	Output     map[string]string
}

// lookup resolves a dotted key ("policy.name", "output.foo") against ctx.
// The key set is small and fixed, so a couple of string comparisons beat
// reflection or a templating engine.
func (c Context) lookup(key string) (string, bool) {
	switch {
	case key == "policy.name":
		return c.PolicyName, true
	case strings.HasPrefix(key, "output."):
		v, ok := c.Output[strings.TrimPrefix(key, "output.")]
		return v, ok
	default:
		return "", false
	}
}

// Interpolate substitutes every `{key}` placeholder in template with its
// resolved value from ctx. An unresolved key is an
// error, never a silent empty substitution. That rules out text/template,
// whose missing-key behavior is to render the zero value. A `{` whose text
// up to the next `}` is not a key (letters, digits, '.', '_', '-') is
// copied literally, so JSON body templates keep their own braces.
func Interpolate(template string, ctx Context) (string, error) {
	var out strings.Builder
	rest := template
	for {
		start := strings.IndexByte(rest, '{')
		if start == -1 {
			out.WriteString(rest)
			return out.String(), nil
		}
		out.WriteString(rest[:start])
		rest = rest[start+1:]

		end := strings.IndexByte(rest, '}')
		if end == -1 {
			return "", fmt.Errorf("unterminated placeholder in template: %q", template)
		}
		key := rest[:end]
		if key == "" || strings.IndexFunc(key, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune("._-", r)
		}) != -1 {
			// Not a placeholder (e.g. the brace opening a JSON body
			// template): copy the brace literally and keep scanning.
			out.WriteByte('{')
			continue
		}
		rest = rest[end+1:]

		value, ok := ctx.lookup(key)
		if !ok {
			return "", fmt.Errorf("unresolved template key %q", key)
		}
		out.WriteString(value)
	}
}
