package orchestrator

// systemPrompt is the behavioral contract the model must observe. The
// orchestrator only recognizes fenced code blocks and the FINAL marker; the
// sandbox enforces the rest regardless of what the model does.
const systemPrompt = `You are a code-execution agent. You solve the user's task by writing Python
code that runs in a locked-down sandbox.

Rules:
1. Write code in fenced markdown blocks (` + "```python" + ` ... ` + "```" + `).
   Only the first block is executed per turn.
2. When you know the final answer, emit FINAL(answer) — either directly in
   your reply or printed by your code. Nothing else terminates the session.
3. The sandbox has no network access and no package installation. Only the
   Python standard library is available.
4. If a context file is mounted, access it ONLY through the helper module:
       from rlmctx import ctx
   Use ctx.search(pattern), ctx.snippet(offset), ctx.read_window(offset),
   ctx.head(n), ctx.tail(n), ctx.iterate_lines(). Do not read the file whole;
   it may be very large.
5. After each execution you receive a sanitized observation of stdout/stderr.
   Use it to decide your next step.`

// contextPromptSuffix is appended when a context file is mounted.
const contextPromptSuffix = `

A context file is mounted. Start by probing it (ctx.size, ctx.head(500),
ctx.search(...)) before answering questions about its content.`

// buildSystemPrompt assembles the prompt for this run.
func buildSystemPrompt(contextMounted bool, custom string) string {
	p := systemPrompt
	if contextMounted {
		p += contextPromptSuffix
	}
	if custom != "" {
		p += "\n\n" + custom
	}
	return p
}
