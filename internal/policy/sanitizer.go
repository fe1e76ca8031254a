package policy

import (
	"context"
	"log"
	"time"
)

// Placeholder returned when the remote detector fails after the local
// pre-filter already flagged the text. The raw text is never returned in
// that situation.
const Placeholder = "[PROTECTED CONTENT]"

// Detector removes the requested info types from text, replacing each
// detected span with an info-type marker.
type Detector interface {
	Redact(ctx context.Context, text string, infoTypes []string) (string, error)
}

// Events receives sanitizer outcome notifications. Implemented by the
// observability metrics; nil-safe via the noop default.
type Events interface {
	SanitizerEvent(event string)
}

type noopEvents struct{}

func (noopEvents) SanitizerEvent(string) {}

// Sanitizer guards text with a cheap local pattern pre-filter in front of a
// remote detection call, failing closed when the remote call errors.
type Sanitizer struct {
	detector Detector
	timeout  time.Duration
	events   Events
}

func NewSanitizer(detector Detector, timeout time.Duration, events Events) *Sanitizer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if events == nil {
		events = noopEvents{}
	}
	return &Sanitizer{detector: detector, timeout: timeout, events: events}
}

var defaultInfoTypes = []string{InfoTypeEmail, InfoTypePhone, InfoTypeCard}

// Sanitize returns a version of text that is safe to forward. Empty input
// returns immediately; text matching no PII pattern is returned unchanged
// without a remote call; on any remote failure the fixed placeholder is
// returned instead of the original text.
func (s *Sanitizer) Sanitize(ctx context.Context, text string) string {
	if text == "" {
		s.events.SanitizerEvent("empty")
		return ""
	}
	if !MatchesPII(text) {
		s.events.SanitizerEvent("fast_path")
		return text
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	redacted, err := s.detector.Redact(ctx, text, defaultInfoTypes)
	if err != nil {
		log.Printf("pii detector failed, failing closed: %v", err)
		s.events.SanitizerEvent("failed_closed")
		return Placeholder
	}
	s.events.SanitizerEvent("redacted")
	return redacted
}
