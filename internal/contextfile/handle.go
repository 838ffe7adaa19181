// Package contextfile provides a narrow, read-only view over a host file that
// untrusted code is allowed to query. The file is memory-mapped once at open
// and never written; every accessor clamps its bounds and returns owned bytes.
//
// Binary files are rejected at open time. A PDF or compiled binary handed to
// the model as "context" produces garbage answers; failing fast is safer.
package contextfile

import (
	"bufio"
	"bytes"
	"fmt"
	"iter"
	"os"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sys/unix"

	"github.com/1thirteeng3/rlm/internal/egress"
	"github.com/1thirteeng3/rlm/internal/errdefs"
)

const (
	// DefaultWindowSize is the byte radius used by ReadWindow when callers
	// pass zero.
	DefaultWindowSize = 500

	// MaxSearchResults caps search output when callers pass zero.
	MaxSearchResults = 10

	// binarySniffBytes is how much of the file head is inspected for binary
	// content at open time.
	binarySniffBytes = 8192

	// controlByteThreshold is the maximum tolerated ratio of non-printable
	// control bytes (tab, newline, and CR excluded) in the sniffed head.
	controlByteThreshold = 0.30

	// fingerprintSampleBytes bounds how much of the file feeds the egress
	// fingerprint.
	fingerprintSampleBytes = 64 * 1024
)

// Handle is a read-only, mmap-backed view over a context file. It is safe for
// concurrent reads. Close releases the mapping; the handle must not be used
// afterwards.
type Handle struct {
	path string
	size int64
	file *os.File
	data []byte // mmap region; nil for empty files.

	fpOnce sync.Once
	fp     *egress.Fingerprint
}

// Open maps path read-only and validates that it holds text. It returns
// ErrContextNotFound when the file is missing and ErrContextBinary when the
// head looks binary.
func Open(path string) (*Handle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errdefs.ErrContextNotFound, path)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", errdefs.ErrContextNotFound, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errdefs.ErrContextNotFound, path, err)
	}

	h := &Handle{path: path, size: info.Size(), file: f}
	if h.size > 0 {
		data, err := unix.Mmap(int(f.Fd()), 0, int(h.size), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("mmap %s: %w", path, err)
		}
		h.data = data
	}

	if err := h.validateNotBinary(); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// validateNotBinary scans the head of the mapping for null bytes and control
// characters.
func (h *Handle) validateNotBinary() error {
	n := int64(binarySniffBytes)
	if h.size < n {
		n = h.size
	}
	if n == 0 {
		return nil
	}
	sample := h.data[:n]

	if bytes.IndexByte(sample, 0) >= 0 {
		return fmt.Errorf("%w: null byte in %s", errdefs.ErrContextBinary, h.path)
	}

	control := 0
	for _, b := range sample {
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			control++
		}
	}
	if ratio := float64(control) / float64(len(sample)); ratio > controlByteThreshold {
		return fmt.Errorf("%w: %.0f%% control bytes in %s", errdefs.ErrContextBinary, ratio*100, h.path)
	}
	return nil
}

// Path returns the absolute host path backing the handle.
func (h *Handle) Path() string { return h.path }

// Size returns the file size in bytes.
func (h *Handle) Size() int64 { return h.size }

// Read returns up to length bytes starting at start, decoded best-effort.
// Bounds are clamped: negative start reads from the beginning, and reads past
// the end stop at the end.
func (h *Handle) Read(start, length int64) string {
	if start < 0 {
		start = 0
	}
	if start >= h.size || length <= 0 {
		return ""
	}
	end := start + length
	if end > h.size {
		end = h.size
	}
	return decode(h.data[start:end])
}

// ReadWindow returns text centered on offset with the given byte radius on
// each side.
func (h *Handle) ReadWindow(offset, radius int64) string {
	if radius <= 0 {
		radius = DefaultWindowSize
	}
	start := offset - radius
	if start < 0 {
		start = 0
	}
	return h.Read(start, radius*2)
}

// Snippet is ReadWindow with window semantics: window is the total size, not
// the radius.
func (h *Handle) Snippet(offset, window int64) string {
	if window <= 0 {
		window = DefaultWindowSize
	}
	return h.ReadWindow(offset, window/2)
}

// Match is a single search hit.
type Match struct {
	Offset int64
	Text   string
}

// Search runs pattern over the mapped bytes and returns up to maxResults
// matches. Matches that are not valid UTF-8 are skipped.
func (h *Handle) Search(pattern string, maxResults int) ([]Match, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid search pattern: %w", err)
	}
	if maxResults <= 0 || maxResults > MaxSearchResults {
		maxResults = MaxSearchResults
	}

	var matches []Match
	for _, loc := range re.FindAllIndex(h.data, -1) {
		raw := h.data[loc[0]:loc[1]]
		if !utf8.Valid(raw) {
			continue
		}
		matches = append(matches, Match{Offset: int64(loc[0]), Text: string(raw)})
		if len(matches) >= maxResults {
			break
		}
	}
	return matches, nil
}

// LineMatch is a single line-oriented search hit.
type LineMatch struct {
	LineNumber int
	Line       string
	Context    string
}

// SearchLines scans line by line and returns matching lines with up to
// contextLines of surrounding text.
func (h *Handle) SearchLines(pattern string, maxResults, contextLines int) ([]LineMatch, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid search pattern: %w", err)
	}
	if maxResults <= 0 || maxResults > MaxSearchResults {
		maxResults = MaxSearchResults
	}

	var matches []LineMatch
	var window []string
	scanner := bufio.NewScanner(bytes.NewReader(h.data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		window = append(window, line)
		if len(window) > contextLines*2+1 {
			window = window[1:]
		}
		if re.MatchString(line) {
			matches = append(matches, LineMatch{
				LineNumber: lineNo,
				Line:       strings.TrimSpace(line),
				Context:    strings.Join(window, "\n"),
			})
			if len(matches) >= maxResults {
				break
			}
		}
	}
	return matches, scanner.Err()
}

// Lines iterates over (lineNumber, line) pairs starting at startLine
// (1-based). The sequence is finite and restartable by calling Lines again.
func (h *Handle) Lines(startLine int) iter.Seq2[int, string] {
	return func(yield func(int, string) bool) {
		scanner := bufio.NewScanner(bytes.NewReader(h.data))
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if lineNo < startLine {
				continue
			}
			if !yield(lineNo, decode(scanner.Bytes())) {
				return
			}
		}
	}
}

// Head returns the first n bytes.
func (h *Handle) Head(n int64) string { return h.Read(0, n) }

// Tail returns the last n bytes.
func (h *Handle) Tail(n int64) string {
	start := h.size - n
	if start < 0 {
		start = 0
	}
	return h.Read(start, n)
}

// Fingerprint returns the egress echo-detection fingerprint, sampled from the
// mapping on first use. Sampling is a uniform stride so that large files
// contribute shingles from every region, not just the head.
func (h *Handle) Fingerprint() *egress.Fingerprint {
	h.fpOnce.Do(func() {
		h.fp = egress.NewFingerprint(h.sample())
	})
	return h.fp
}

// sample returns up to fingerprintSampleBytes of the file. Small files are
// used whole; large files are sampled in evenly spaced chunks.
func (h *Handle) sample() string {
	if h.size <= fingerprintSampleBytes {
		return decode(h.data)
	}
	const chunks = 16
	chunkSize := int64(fingerprintSampleBytes / chunks)
	stride := h.size / chunks
	var sb strings.Builder
	sb.Grow(fingerprintSampleBytes)
	for i := int64(0); i < chunks; i++ {
		start := i * stride
		end := start + chunkSize
		if end > h.size {
			end = h.size
		}
		sb.WriteString(decode(h.data[start:end]))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Close releases the mapping and the underlying file. It is safe to call
// more than once.
func (h *Handle) Close() error {
	var err error
	if h.data != nil {
		err = unix.Munmap(h.data)
		h.data = nil
	}
	if h.file != nil {
		if cerr := h.file.Close(); err == nil {
			err = cerr
		}
		h.file = nil
	}
	return err
}

// decode converts mapped bytes to an owned string, replacing undecodable
// sequences.
func decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}
