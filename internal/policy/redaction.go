package policy

import "regexp"

// Info types requested from the remote detection service. The local patterns
// below are heuristic pre-filters for the same categories.
const (
	InfoTypeEmail = "EMAIL_ADDRESS"
	InfoTypePhone = "PHONE_NUMBER"
	InfoTypeCard  = "CREDIT_CARD_NUMBER"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// MatchesPII reports whether any of the local PII patterns match. It is a
// cheap gate in front of the remote detector, not a correctness guarantee:
// obfuscated PII can slip past it.
func MatchesPII(input string) bool {
	return emailPattern.MatchString(input) ||
		cardPattern.MatchString(input) ||
		phonePattern.MatchString(input)
}

// RedactLocal masks the local PII patterns with info-type markers.
func RedactLocal(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "["+InfoTypeEmail+"]")
	changed = changed || next != out
	out = next

	// Run card redaction before phone to avoid card numbers being classified as phone.
	next = cardPattern.ReplaceAllString(out, "["+InfoTypeCard+"]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "["+InfoTypePhone+"]")
	changed = changed || next != out
	out = next

	return out, changed
}
