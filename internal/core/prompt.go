package core

import (
	"strings"
)

const promptPreamble = "You are a compassionate mental health support assistant. " +
	"Use the context from mental health resources to answer the question."

const promptInstructions = `Instructions:
- Be empathetic, supportive, and non-judgmental
- Provide evidence-based information from the context
- If you don't know something, say so - don't make up information
- Always acknowledge feelings before providing information
- Use simple, clear language
- Remind users to seek professional help for serious concerns
- Never diagnose or prescribe treatment`

// BuildPrompt assembles the generation prompt from the retrieved context,
// prior turns and the current question. Empty context and history still
// produce their section headers.
func BuildPrompt(chunks []RetrievedChunk, history []Turn, question string) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	b.WriteString("\n\nContext from mental health resources:\n")
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(c.Content))
	}

	b.WriteString("\n\nPrevious conversation:\n")
	for _, t := range history {
		b.WriteString("Human: ")
		b.WriteString(t.Question)
		b.WriteString("\nAssistant: ")
		b.WriteString(t.Answer)
		b.WriteString("\n")
	}

	b.WriteString("\nUser's question: ")
	b.WriteString(question)
	b.WriteString("\n\n")
	b.WriteString(promptInstructions)
	b.WriteString("\n\nYour response:")
	return b.String()
}
