package apperr

import "regexp"

type redaction struct {
	re   *regexp.Regexp
	repl string
}

var redactions = []redaction{
	{regexp.MustCompile(`sk-[A-Za-z0-9_\-]{8,}`), "[REDACTED]"},
	{regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`), "[REDACTED]"},
	{regexp.MustCompile(`AIza[0-9A-Za-z_\-]{20,}`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`(?i)([?&](?:api[_-]?)?key=)[^&\s"]+`), "${1}[REDACTED]"},
	// base64(iv).base64(ciphertext) as produced by the secret resolver
	{regexp.MustCompile(`[A-Za-z0-9+/]{16}\.[A-Za-z0-9+/=]{24,}`), "[REDACTED]"},
}

// Sanitize strips anything resembling a credential from msg.
func Sanitize(msg string) string {
	for _, r := range redactions {
		msg = r.re.ReplaceAllString(msg, r.repl)
	}
	return msg
}
