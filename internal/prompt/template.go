package prompt

import "regexp"

var placeholder = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Substitute replaces every {{identifier}} token in the template with the
// mapped value. Unknown identifiers substitute to the empty string.
func Substitute(template string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		return vars[name]
	})
}
