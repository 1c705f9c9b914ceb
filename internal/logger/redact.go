// Package logger provides log output helpers, including a secret-masking writer.
package logger

import (
	"io"
	"regexp"
)

// redactPatterns are applied in order. Replacements are literal unless expand
// is set, in which case ${1} refers to the kept prefix.
var redactPatterns = []struct {
	re          *regexp.Regexp
	replacement []byte
	expand      bool
}{
	// Bearer tokens in Authorization headers or log fields.
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`), []byte("bearer [REDACTED]"), false},
	// Credentials embedded in endpoint URLs.
	{regexp.MustCompile(`(https?://)[^/\s:@"]+:[^/\s@"]+@`), []byte("${1}[REDACTED]@"), true},
	// Telemetry client identifiers, quoted or key=value.
	{regexp.MustCompile(`(?i)("?client_?id"?\s*[:=]\s*"?)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`), []byte("${1}[REDACTED]"), true},
}

type RedactWriter struct{ w io.Writer }

func NewRedactWriter(w io.Writer) *RedactWriter { return &RedactWriter{w: w} }

func (r *RedactWriter) Write(p []byte) (int, error) {
	out := p
	for _, pat := range redactPatterns {
		if pat.expand {
			out = pat.re.ReplaceAll(out, pat.replacement)
		} else {
			out = pat.re.ReplaceAllLiteral(out, pat.replacement)
		}
	}
	_, err := r.w.Write(out)
	return len(p), err
}
