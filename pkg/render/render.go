// Package render substitutes named placeholders into contract templates.
// A placeholder key k matches both [k] and {{k}}, case-insensitively.
// Unmatched placeholders are left as-is so missing data stays visible in
// the finalized document.
package render

import (
	"regexp"
	"sort"
)

// Render replaces every placeholder covered by bindings and returns the
// finalized text. Replacement values are substituted verbatim, never
// reinterpreted as regex patterns. Keys are applied in sorted order so the
// output does not depend on map iteration.
func Render(template string, bindings map[string]string) string {
	if len(bindings) == 0 {
		return template
	}

	keys := make([]string, 0, len(bindings))
	for k := range bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := template
	for _, k := range keys {
		esc := regexp.QuoteMeta(k)
		re, err := regexp.Compile(`(?i)\[` + esc + `\]|\{\{` + esc + `\}\}`)
		if err != nil {
			continue // an uncompilable key simply stays unreplaced
		}
		out = re.ReplaceAllLiteralString(out, bindings[k])
	}
	return out
}
