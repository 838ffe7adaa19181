// Package egress sanitizes every byte leaving the sandbox before it is shown
// to the model. The filter is a fixed pipeline: binary gate, truncation,
// secret patterns, entropy, context echo. Each stage may rewrite the buffer
// and emits structured events that callers can log or act on.
package egress

import "fmt"

// EventKind identifies which sanitization rule fired.
type EventKind string

const (
	EventTruncated     EventKind = "truncated"
	EventHighEntropy   EventKind = "high_entropy"
	EventSecretPattern EventKind = "secret_pattern"
	EventContextEcho   EventKind = "context_echo"
	EventBinaryPayload EventKind = "binary_payload"
)

// Event records a single filter action: what fired, where in the buffer, and
// the placeholder that was substituted.
type Event struct {
	Kind        EventKind
	Start       int    // Byte offset in the buffer as it was when the stage ran.
	End         int    // Exclusive.
	Placeholder string // Text substituted for the flagged range.
	Detail      string // Rule-specific detail (e.g. pattern name).
}

func (e Event) String() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s[%d:%d] %s", e.Kind, e.Start, e.End, e.Detail)
	}
	return fmt.Sprintf("%s[%d:%d]", e.Kind, e.Start, e.End)
}

// leaky reports whether the event should trip the raise-on-leak policy.
// Truncation is a size control, not a leak.
func (e Event) leaky() bool { return e.Kind != EventTruncated }
