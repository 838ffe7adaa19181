package extract

import "testing"

func TestCodeFencedPython(t *testing.T) {
	md := "Here is the plan.\n\n```python\nprint('hello')\n```\n"
	code, ok := Code(md)
	if !ok {
		t.Fatal("no code extracted")
	}
	if code != "print('hello')" {
		t.Errorf("code = %q", code)
	}
}

func TestCodeInfoStrings(t *testing.T) {
	tests := []struct {
		name string
		md   string
		want bool
	}{
		{"py", "```py\nx = 1\n```", true},
		{"python3", "```python3\nx = 1\n```", true},
		{"no info", "```\nx = 1\n```", true},
		{"bash rejected", "```bash\nls -la\n```", false},
		{"javascript rejected", "```javascript\nconsole.log(1)\n```", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Code(tt.md)
			if ok != tt.want {
				t.Errorf("Code(%q) ok = %v, want %v", tt.md, ok, tt.want)
			}
		})
	}
}

func TestCodeFirstBlockWins(t *testing.T) {
	md := "```python\nfirst = 1\n```\n\nmore prose\n\n```python\nsecond = 2\n```\n"
	code, ok := Code(md)
	if !ok || code != "first = 1" {
		t.Errorf("code = %q, ok = %v, want first block", code, ok)
	}
}

func TestCodeSkipsNonPythonThenFindsPython(t *testing.T) {
	md := "```bash\necho hi\n```\n\n```python\nx = 42\n```\n"
	code, ok := Code(md)
	if !ok || code != "x = 42" {
		t.Errorf("code = %q, ok = %v", code, ok)
	}
}

func TestCodeMultiline(t *testing.T) {
	md := "```python\nimport math\n\nprint(math.pi)\n```"
	code, ok := Code(md)
	if !ok {
		t.Fatal("no code extracted")
	}
	want := "import math\n\nprint(math.pi)"
	if code != want {
		t.Errorf("code = %q, want %q", code, want)
	}
}

func TestCodeNone(t *testing.T) {
	if _, ok := Code("Just prose, no code at all."); ok {
		t.Error("extracted code from prose")
	}
	if _, ok := Code(""); ok {
		t.Error("extracted code from empty input")
	}
}

func TestFinalAnswerParens(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"simple", "FINAL(42)", "42", true},
		{"nested parens", "FINAL(f(x) = (x+1))", "f(x) = (x+1)", true},
		{"embedded", "The result is FINAL(4) as computed.", "4", true},
		{"trimmed", "FINAL(  spaced  )", "spaced", true},
		{"unbalanced", "FINAL(never closed", "", false},
		{"absent", "no marker here", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FinalAnswer(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("FinalAnswer(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestFinalAnswerLineForms(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"colon", "some text\nFINAL: the answer\nmore", "the answer"},
		{"final answer", "Final Answer: 42", "42"},
		{"case insensitive", "final answer: yes", "yes"},
		{"indented", "  FINAL: indented", "indented"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FinalAnswer(tt.in)
			if !ok || got != tt.want {
				t.Errorf("FinalAnswer(%q) = (%q, %v), want %q", tt.in, got, ok, tt.want)
			}
		})
	}
}

func TestFinalAnswerParensWinsOverColon(t *testing.T) {
	got, ok := FinalAnswer("FINAL: colon form\nFINAL(paren form)")
	if !ok || got != "paren form" {
		t.Errorf("got %q, want paren form to win", got)
	}
}

func TestFinalAnswerSkipsUnbalancedThenMatches(t *testing.T) {
	got, ok := FinalAnswer("broken FINAL( oops\nthen FINAL(real)")
	if !ok || got != "real" {
		t.Errorf("got (%q, %v), want real", got, ok)
	}
}
