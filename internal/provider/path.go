package provider

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/apperr"
)

var placeholderRE = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// ResolvePath fills every {name} segment of template from params. Values are
// path-escaped. A missing or blank parameter is an invalid operation.
func ResolvePath(template string, params map[string]string) (string, error) {
	var missing []string
	out := placeholderRE.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		v := strings.TrimSpace(params[name])
		if v == "" {
			missing = append(missing, name)
			return m
		}
		return url.PathEscape(v)
	})
	if len(missing) > 0 {
		return "", apperr.Configuration("resolve path", "invalid operation: unresolved placeholder(s) %s in %s", strings.Join(missing, ", "), template)
	}
	return out, nil
}
