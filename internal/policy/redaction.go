package policy

import "regexp"

var (
	bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._\-]+`)
	apiKeyPattern = regexp.MustCompile(`\b(?:sk|ek|rk)-[A-Za-z0-9_\-]{8,}`)
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactSecrets masks credentials that upstream error text tends to echo back.
func RedactSecrets(input string) (redacted string, changed bool) {
	out := bearerPattern.ReplaceAllString(input, "Bearer [REDACTED_TOKEN]")
	out = apiKeyPattern.ReplaceAllString(out, "[REDACTED_KEY]")
	return out, out != input
}

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := emailPattern.ReplaceAllString(input, "[REDACTED_EMAIL]")
	// Cards before phones, otherwise card numbers classify as phones.
	out = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	out = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out, out != input
}

// Redact applies every rule. It is what log call sites should use.
func Redact(input string) string {
	out, _ := RedactSecrets(input)
	out, _ = RedactPII(out)
	return out
}
