package observability

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/m-mizutani/masq"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// sensitiveNames are matched case-insensitively against attribute keys and
// URL query parameter names.
var sensitiveNames = []string{"password", "secret", "token", "apikey", "api_key", "credential"}

// queryParamPattern matches name=value pairs of sensitive query parameters.
var queryParamPattern = regexp.MustCompile(`(?i)([?&](?:` + strings.Join(sensitiveNames, "|") + `)=)([^&#\s"]*)`)

// newRedactor returns a ReplaceAttr function masking credentials. Plain
// attributes are matched by key, URLs have their sensitive query values
// replaced, and struct values are walked by masq.
func newRedactor() func([]string, slog.Attr) slog.Attr {
	opts := []masq.Option{masq.WithContain("Bearer ")}
	for _, name := range sensitiveNames {
		opts = append(opts,
			masq.WithFieldName(name),
			masq.WithFieldName(strings.ToUpper(name[:1])+name[1:]),
		)
	}
	opts = append(opts, masq.WithFieldName("APIKey"), masq.WithFieldName("AccessToken"))
	structs := masq.New(opts...)

	return func(groups []string, a slog.Attr) slog.Attr {
		if isSensitiveKey(a.Key) {
			return slog.String(a.Key, RedactedValue)
		}
		switch a.Value.Kind() {
		case slog.KindString:
			return slog.String(a.Key, RedactURL(a.Value.String()))
		case slog.KindAny:
			return structs(groups, a)
		default:
			return a
		}
	}
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, name := range sensitiveNames {
		if k == name {
			return true
		}
	}
	return false
}

// RedactURL masks the values of credential-like query parameters.
func RedactURL(s string) string {
	if !strings.ContainsAny(s, "?&") {
		return s
	}
	return queryParamPattern.ReplaceAllString(s, "${1}"+RedactedValue)
}
