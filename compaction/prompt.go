package compaction

// SummarizationSystemPrompt instructs the model to condense one block of
// agent context into a shorter block that can replace it verbatim.
const SummarizationSystemPrompt = `You condense context for an AI agent whose context window is nearly full. The text you receive is one section of that context: conversation turns, tool output, file contents or notes. Your reply replaces it word for word, so it must stand on its own.

## Rules

- Keep every fact the agent may need later: identifiers, file paths, function and type names, numbers, error messages, decisions and open tasks.
- Drop repetition, pleasantries, progress chatter and raw output that has already been interpreted.
- Keep code only when it is the subject of ongoing work; otherwise name it and state what it does.
- Preserve the order in which events happened.
- Never invent information that is not in the text.
- Use short bullet points. No preamble, no closing remarks.`

// BuildSummarizationUserPrompt wraps the text to condense.
func BuildSummarizationUserPrompt(text string) string {
	return `Condense the following context section according to your instructions.

<context>
` + text + `
</context>

Reply with the condensed section only.`
}
