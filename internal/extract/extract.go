// Package extract parses model output into an executable code block and a
// final-answer marker. Code blocks are enumerated from the markdown AST —
// there is no regex fallback; a response the parser cannot handle is a parse
// failure, not a guess.
package extract

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// codeLanguages are the fence info strings accepted as executable code. An
// empty info string counts as code too.
var codeLanguages = map[string]bool{
	"":        true,
	"python":  true,
	"py":      true,
	"python3": true,
}

// Code returns the first fenced code block whose info string marks it as
// executable. ok is false when no such block exists.
func Code(markdown string) (code string, ok bool) {
	src := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || ok {
			return ast.WalkContinue, nil
		}
		var lang string
		var lines *text.Segments
		switch b := n.(type) {
		case *ast.FencedCodeBlock:
			if b.Info != nil {
				lang = strings.ToLower(strings.TrimSpace(string(b.Language(src))))
			}
			lines = b.Lines()
		case *ast.CodeBlock:
			// Indented block: no info string, treated as unlabeled code.
			lines = b.Lines()
		default:
			return ast.WalkContinue, nil
		}
		if !codeLanguages[lang] {
			return ast.WalkContinue, nil
		}
		var sb strings.Builder
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			sb.Write(seg.Value(src))
		}
		if content := strings.TrimSpace(sb.String()); content != "" {
			code = content
			ok = true
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", false
	}
	return code, ok
}
