package contextfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/1thirteeng3/rlm/internal/errdefs"
)

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func openTestHandle(t *testing.T, content string) *Handle {
	t.Helper()
	h, err := Open(writeTestFile(t, "ctx.txt", content))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.txt"))
	if !errors.Is(err, errdefs.ErrContextNotFound) {
		t.Errorf("error = %v, want ErrContextNotFound", err)
	}
}

func TestOpenRejectsNullBytes(t *testing.T) {
	path := writeTestFile(t, "bin.dat", "text before\x00text after")
	_, err := Open(path)
	if !errors.Is(err, errdefs.ErrContextBinary) {
		t.Errorf("error = %v, want ErrContextBinary", err)
	}
}

func TestOpenRejectsControlBytes(t *testing.T) {
	// Over 30% control characters outside tab/newline/CR.
	content := strings.Repeat("\x01\x02a", 100)
	path := writeTestFile(t, "ctrl.dat", content)
	_, err := Open(path)
	if !errors.Is(err, errdefs.ErrContextBinary) {
		t.Errorf("error = %v, want ErrContextBinary", err)
	}
}

func TestOpenAcceptsTextWithTabsAndNewlines(t *testing.T) {
	h := openTestHandle(t, "col1\tcol2\r\nval1\tval2\n")
	if h.Size() == 0 {
		t.Error("size = 0, want > 0")
	}
}

func TestOpenEmptyFile(t *testing.T) {
	h := openTestHandle(t, "")
	if h.Size() != 0 {
		t.Errorf("size = %d, want 0", h.Size())
	}
	if got := h.Read(0, 100); got != "" {
		t.Errorf("Read on empty file = %q, want empty", got)
	}
}

func TestReadClampsBounds(t *testing.T) {
	h := openTestHandle(t, "hello world")

	tests := []struct {
		name          string
		start, length int64
		want          string
	}{
		{"negative start", -5, 5, "hello"},
		{"past end", 100, 10, ""},
		{"length overruns", 6, 100, "world"},
		{"exact", 0, 5, "hello"},
		{"zero length", 0, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.Read(tt.start, tt.length); got != tt.want {
				t.Errorf("Read(%d, %d) = %q, want %q", tt.start, tt.length, got, tt.want)
			}
		})
	}
}

func TestReadWindowAndSnippet(t *testing.T) {
	h := openTestHandle(t, "0123456789abcdefghij")

	if got := h.ReadWindow(10, 3); got != "789abc" {
		t.Errorf("ReadWindow(10, 3) = %q, want %q", got, "789abc")
	}
	if got, want := h.Snippet(10, 6), h.ReadWindow(10, 3); got != want {
		t.Errorf("Snippet(10, 6) = %q, want ReadWindow alias %q", got, want)
	}
}

func TestSearch(t *testing.T) {
	h := openTestHandle(t, "alpha beta gamma\nbeta delta\nepsilon beta\n")

	matches, err := h.Search(`beta`, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("matches = %d, want 3", len(matches))
	}
	if matches[0].Offset != 6 || matches[0].Text != "beta" {
		t.Errorf("first match = %+v, want offset 6 text beta", matches[0])
	}
}

func TestSearchCapsResults(t *testing.T) {
	h := openTestHandle(t, strings.Repeat("needle ", 50))

	matches, err := h.Search(`needle`, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != MaxSearchResults {
		t.Errorf("matches = %d, want hard cap %d", len(matches), MaxSearchResults)
	}

	matches, err = h.Search(`needle`, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 3 {
		t.Errorf("matches = %d, want 3", len(matches))
	}
}

func TestSearchInvalidPattern(t *testing.T) {
	h := openTestHandle(t, "content")
	if _, err := h.Search(`[unclosed`, 0); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestSearchLines(t *testing.T) {
	h := openTestHandle(t, "one\ntwo match\nthree\nfour match\n")

	matches, err := h.SearchLines(`match`, 0, 1)
	if err != nil {
		t.Fatalf("SearchLines: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].LineNumber != 2 || matches[0].Line != "two match" {
		t.Errorf("first match = %+v", matches[0])
	}
	if !strings.Contains(matches[0].Context, "one") {
		t.Errorf("context %q missing preceding line", matches[0].Context)
	}
}

func TestLines(t *testing.T) {
	h := openTestHandle(t, "first\nsecond\nthird\n")

	var nums []int
	var lines []string
	for n, line := range h.Lines(2) {
		nums = append(nums, n)
		lines = append(lines, line)
	}
	if len(nums) != 2 || nums[0] != 2 || lines[0] != "second" || lines[1] != "third" {
		t.Errorf("Lines(2) = %v %v", nums, lines)
	}

	// Restartable: a second iteration yields the same result.
	count := 0
	for range h.Lines(1) {
		count++
	}
	if count != 3 {
		t.Errorf("second iteration count = %d, want 3", count)
	}
}

func TestHeadTail(t *testing.T) {
	h := openTestHandle(t, "abcdefghij")

	if got := h.Head(4); got != "abcd" {
		t.Errorf("Head(4) = %q", got)
	}
	if got := h.Tail(4); got != "ghij" {
		t.Errorf("Tail(4) = %q", got)
	}
	if got := h.Tail(100); got != "abcdefghij" {
		t.Errorf("Tail(100) = %q, want whole file", got)
	}
}

func TestFingerprint(t *testing.T) {
	h := openTestHandle(t, "the root password is hunter2 for the prod cluster")

	fp := h.Fingerprint()
	if fp.Empty() {
		t.Fatal("fingerprint empty for sentence-sized file")
	}
	if sim := fp.Similarity("the root password is hunter2 for the prod cluster"); sim < 1.0 {
		t.Errorf("similarity = %v, want 1.0", sim)
	}

	// Cached: same pointer on second call.
	if h.Fingerprint() != fp {
		t.Error("fingerprint not cached")
	}
}

func TestCloseIdempotent(t *testing.T) {
	h := openTestHandle(t, "content")
	if err := h.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
