package datasource

import (
	"regexp"
	"strings"
)

// ─── TEMPLATE VARIABLE INTERPOLATION ──────────────────────────────────────────

// TemplateSrv is the host's template-variable engine. The host owns variable
// definition and resolution; we only hand it expressions to substitute into
// and scoped values to substitute with. The zero-value datasource uses
// NoopTemplateSrv.
type TemplateSrv interface {
	Replace(expr string, scopedVars map[string]string) string
}

// NoopTemplateSrv returns expressions untouched. Used when the host does its
// own interpolation before the query reaches us (the common case with
// Grafana, which interpolates in the frontend).
type NoopTemplateSrv struct{}

func (NoopTemplateSrv) Replace(expr string, _ map[string]string) string { return expr }

// promQLRegexMeta matches every character PromQL's regex matchers treat
// specially. Mirrors what the upstream label matcher engine (RE2) escapes.
var promQLRegexMeta = regexp.MustCompile(`[\\^$*+?.()|[\]{}]`)

// InterpolateQueryExpr escapes a single variable value so it is safe to drop
// into a =~ matcher: every regex metacharacter gets a double backslash, one
// consumed by the PromQL string literal, one by RE2.
func InterpolateQueryExpr(value string) string {
	return promQLRegexMeta.ReplaceAllStringFunc(value, func(m string) string {
		return `\\` + m
	})
}

// InterpolateMulti renders a multi-valued variable as an alternation:
// ["a","b.c"] -> (a|b\\.c). A single value is escaped but not wrapped, so
// plain = matchers keep working for single selections. No values at all
// renders empty, never an empty group: `=~"()"` matches every series.
func InterpolateMulti(values []string) string {
	if len(values) == 0 {
		return ""
	}
	if len(values) == 1 {
		return InterpolateQueryExpr(values[0])
	}
	escaped := make([]string, 0, len(values))
	for _, v := range values {
		escaped = append(escaped, InterpolateQueryExpr(v))
	}
	return "(" + strings.Join(escaped, "|") + ")"
}
