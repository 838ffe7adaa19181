package extract

import (
	"regexp"
	"strings"
)

var (
	finalColonRE  = regexp.MustCompile(`(?m)^\s*FINAL:\s*(.*)$`)
	finalAnswerRE = regexp.MustCompile(`(?mi)^\s*Final Answer:\s*(.*)$`)
)

// FinalAnswer scans text for a termination marker. Recognized forms, tried in
// order:
//
//	FINAL(payload)     — payload delimited by outermost balanced parentheses
//	FINAL: payload     — to end of line
//	Final Answer: payload — to end of line, case-insensitive
//
// The first successful match wins; the payload is returned trimmed.
func FinalAnswer(text string) (answer string, ok bool) {
	if payload, found := finalParens(text); found {
		return strings.TrimSpace(payload), true
	}
	if m := finalColonRE.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := finalAnswerRE.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return "", false
}

// finalParens extracts the outermost balanced parentheses content after the
// first FINAL( occurrence. Unbalanced occurrences are skipped so a stray
// "FINAL(" in prose does not shadow a later complete marker.
func finalParens(text string) (string, bool) {
	for start := 0; start < len(text); {
		idx := strings.Index(text[start:], "FINAL(")
		if idx < 0 {
			return "", false
		}
		open := start + idx + len("FINAL(")
		depth := 1
		for i := open; i < len(text); i++ {
			switch text[i] {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					return text[open:i], true
				}
			}
		}
		start = open
	}
	return "", false
}
