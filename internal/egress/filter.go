package egress

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/1thirteeng3/rlm/internal/errdefs"
)

const (
	defaultMaxOutputBytes      = 4000
	defaultEntropyThreshold    = 4.5
	defaultMinTokenLength      = 20
	defaultSimilarityThreshold = 0.8

	// Truncation keeps the head and tail of oversized output. The split
	// favors the tail: errors and final results usually appear last.
	truncateHeadBytes = 1000
	truncateTailBytes = 3000

	// truncateSlack absorbs the marker so an already-truncated buffer is not
	// truncated again on a second pass.
	truncateSlack = 64

	binaryPlaceholder  = "[REDACTED: binary payload]"
	entropyPlaceholder = "[REDACTED: high entropy]"
	echoPlaceholder    = "[REDACTED: context echo]"
)

// Config holds the filter thresholds. Zero values select the defaults.
type Config struct {
	MaxOutputBytes      int     // Pre-filter truncation ceiling.
	EntropyThreshold    float64 // Bits per symbol.
	MinTokenLength      int     // Shortest token run tested for entropy.
	SimilarityThreshold float64 // Jaccard threshold for context echo.
	RaiseOnLeak         bool    // Fail instead of sanitize on non-truncation events.
}

// Filter sanitizes sandbox output. It is deterministic for a given input and
// configuration, safe for concurrent use, and CPU-bound — callers offload it
// to a worker pool rather than running it on an I/O path.
type Filter struct {
	cfg    Config
	fp     *Fingerprint
	logger *slog.Logger
}

// New creates a filter. fp may be nil when no context file is mounted; the
// context-echo stage is then skipped.
func New(cfg Config, fp *Fingerprint, logger *slog.Logger) *Filter {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if cfg.EntropyThreshold <= 0 {
		cfg.EntropyThreshold = defaultEntropyThreshold
	}
	if cfg.MinTokenLength <= 0 {
		cfg.MinTokenLength = defaultMinTokenLength
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = defaultSimilarityThreshold
	}
	return &Filter{cfg: cfg, fp: fp, logger: logger}
}

// Filter runs the full pipeline over data and returns the sanitized text with
// the events that fired. Under RaiseOnLeak, any event other than truncation
// aborts with a DataLeakage error carrying the event list.
func (f *Filter) Filter(data []byte) (string, []Event, error) {
	var events []Event

	// Stage 1: binary gate. A binary payload replaces the whole buffer and
	// short-circuits the remaining stages.
	if label := detectMagic(data); label != "" {
		events = append(events, Event{
			Kind:        EventBinaryPayload,
			Start:       0,
			End:         len(data),
			Placeholder: binaryPlaceholder,
			Detail:      label,
		})
		return f.finish(binaryPlaceholder, events)
	}

	text := string(data)

	// Stage 2: truncation.
	text, events = f.truncate(text, events)

	// Stage 3: secret patterns.
	text, events = f.redactPatterns(text, events)

	// Stage 4: entropy. Placeholders inserted by stage 3 contain no token
	// run long enough to be re-examined, so the pipeline is idempotent.
	text, events = f.redactEntropy(text, events)

	// Stage 5: context echo.
	text, events = f.redactEcho(text, events)

	return f.finish(text, events)
}

func (f *Filter) finish(text string, events []Event) (string, []Event, error) {
	if f.cfg.RaiseOnLeak {
		var leaks []string
		for _, ev := range events {
			if ev.leaky() {
				leaks = append(leaks, ev.String())
			}
		}
		if len(leaks) > 0 {
			return "", events, &errdefs.DataLeakageError{Events: leaks}
		}
	}
	for _, ev := range events {
		f.logger.Debug("egress event",
			slog.String("kind", string(ev.Kind)),
			slog.Int("start", ev.Start),
			slog.Int("end", ev.End),
			slog.String("detail", ev.Detail),
		)
	}
	return text, events, nil
}

func (f *Filter) truncate(text string, events []Event) (string, []Event) {
	if len(text) <= f.cfg.MaxOutputBytes+truncateSlack {
		return text, events
	}
	head := truncateHeadBytes
	tail := truncateTailBytes
	if head+tail > f.cfg.MaxOutputBytes {
		head = f.cfg.MaxOutputBytes / 4
		tail = f.cfg.MaxOutputBytes - head
	}
	skipped := len(text) - head - tail
	marker := fmt.Sprintf("\n... [TRUNCATED %d bytes] ...\n", skipped)
	events = append(events, Event{
		Kind:        EventTruncated,
		Start:       head,
		End:         len(text) - tail,
		Placeholder: marker,
		Detail:      fmt.Sprintf("%d bytes skipped", skipped),
	})
	return text[:head] + marker + text[len(text)-tail:], events
}

func (f *Filter) redactPatterns(text string, events []Event) (string, []Event) {
	for _, p := range secretPatterns {
		placeholder := "[REDACTED: " + p.name + "]"
		for {
			loc := p.re.FindStringIndex(text)
			if loc == nil {
				break
			}
			events = append(events, Event{
				Kind:        EventSecretPattern,
				Start:       loc[0],
				End:         loc[1],
				Placeholder: placeholder,
				Detail:      p.name,
			})
			text = text[:loc[0]] + placeholder + text[loc[1]:]
		}
	}
	return text, events
}

func (f *Filter) redactEntropy(text string, events []Event) (string, []Event) {
	var out strings.Builder
	out.Grow(len(text))
	i := 0
	for i < len(text) {
		if !isTokenChar(text[i]) {
			out.WriteByte(text[i])
			i++
			continue
		}
		j := i
		for j < len(text) && isTokenChar(text[j]) {
			j++
		}
		tok := text[i:j]
		if len(tok) >= f.cfg.MinTokenLength && !entropyAllowlisted(tok) {
			if h := ShannonEntropy(tok); h >= f.cfg.EntropyThreshold {
				events = append(events, Event{
					Kind:        EventHighEntropy,
					Start:       i,
					End:         j,
					Placeholder: entropyPlaceholder,
					Detail:      fmt.Sprintf("%.2f bits/symbol", h),
				})
				out.WriteString(entropyPlaceholder)
				i = j
				continue
			}
		}
		out.WriteString(tok)
		i = j
	}
	return out.String(), events
}

func (f *Filter) redactEcho(text string, events []Event) (string, []Event) {
	if f.fp.Empty() {
		return text, events
	}
	lines := strings.Split(text, "\n")
	offset := 0
	for n, line := range lines {
		if sim := f.fp.Similarity(line); sim >= f.cfg.SimilarityThreshold {
			events = append(events, Event{
				Kind:        EventContextEcho,
				Start:       offset,
				End:         offset + len(line),
				Placeholder: echoPlaceholder,
				Detail:      fmt.Sprintf("jaccard %.2f", sim),
			})
			lines[n] = echoPlaceholder
		}
		offset += len(line) + 1
	}
	return strings.Join(lines, "\n"), events
}
