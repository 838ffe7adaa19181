package egress

import "strings"

// shingleSize is the word count of each n-gram used for echo detection.
const shingleSize = 5

// Fingerprint is a sparse set of word shingles sampled from a context file at
// open time. The egress filter compares output segments against it to catch
// verbatim or near-verbatim echoes of mounted context.
type Fingerprint struct {
	shingles map[string]struct{}
}

// NewFingerprint builds a fingerprint from a text sample. Words are
// lower-cased and whitespace-split; every consecutive run of shingleSize words
// contributes one shingle.
func NewFingerprint(sample string) *Fingerprint {
	words := strings.Fields(strings.ToLower(sample))
	fp := &Fingerprint{shingles: make(map[string]struct{})}
	for i := 0; i+shingleSize <= len(words); i++ {
		fp.shingles[strings.Join(words[i:i+shingleSize], " ")] = struct{}{}
	}
	return fp
}

// Empty reports whether the fingerprint holds no shingles (sample shorter
// than one shingle).
func (fp *Fingerprint) Empty() bool { return fp == nil || len(fp.shingles) == 0 }

// Similarity returns the Jaccard similarity between the segment's shingle set
// and the fingerprint: |A∩B| / |A|. The denominator is the segment's own set
// so that a short line fully contained in the context scores 1.0.
func (fp *Fingerprint) Similarity(segment string) float64 {
	if fp.Empty() {
		return 0
	}
	words := strings.Fields(strings.ToLower(segment))
	if len(words) < shingleSize {
		return 0
	}
	seen := make(map[string]struct{})
	for i := 0; i+shingleSize <= len(words); i++ {
		seen[strings.Join(words[i:i+shingleSize], " ")] = struct{}{}
	}
	if len(seen) == 0 {
		return 0
	}
	hits := 0
	for s := range seen {
		if _, ok := fp.shingles[s]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(seen))
}
