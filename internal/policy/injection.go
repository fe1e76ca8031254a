package policy

import (
	"regexp"
	"strings"
)

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bignore\b.*\b(previous|prior|above|earlier)\b.*\binstructions?\b`),
	regexp.MustCompile(`(?i)\bdisregard\b.*\b(instructions?|rules|guidelines)\b`),
	regexp.MustCompile(`(?i)\byou are now\b`),
	regexp.MustCompile(`(?i)\b(reveal|print|show|repeat)\b.*\b(system prompt|hidden instructions?)\b`),
	regexp.MustCompile(`(?i)\bact as\b.*\b(unrestricted|jailbroken|developer mode)\b`),
}

var injectionKeywords = []string{
	"new instructions:",
	"system override",
	"begin system message",
	"</system>",
	"[system]",
}

// LooksLikeInjection flags text that resembles an attempt to smuggle
// instructions into the model via a document or a question. Heuristic only;
// the prompt assembler's delimiters remain the primary mitigation.
func LooksLikeInjection(text string) bool {
	in := strings.ToLower(strings.TrimSpace(text))
	if in == "" {
		return false
	}
	for _, kw := range injectionKeywords {
		if strings.Contains(in, kw) {
			return true
		}
	}
	for _, re := range injectionPatterns {
		if re.MatchString(in) {
			return true
		}
	}
	return false
}
