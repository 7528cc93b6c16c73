package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"gwi.com/mindcare-assistant/internal/config"
)

func TestShaper_ShapeIsIdempotent(t *testing.T) {
	s := NewShaper(config.DefaultDisclaimer, 2, 150)

	once := s.Shape("Try slow breathing.")
	require.True(t, strings.HasSuffix(once, config.DefaultDisclaimer))
	require.Equal(t, once, s.Shape(once))
	require.Equal(t, 1, strings.Count(s.Shape(once), "*Note:"))
}

func TestShaper_Sources(t *testing.T) {
	s := NewShaper(config.DefaultDisclaimer, 2, 20)
	chunks := threeChunks()
	chunks[1].Source = ""
	chunks[1].Content = "short"

	got := s.Sources(chunks)
	require.Len(t, got, 2)
	require.Equal(t, "anxiety.pdf", got[0].Source)
	require.Equal(t, "2", got[0].Page)
	require.Equal(t, "Anxiety often shows ...", got[0].Snippet)
	require.Equal(t, "Unknown", got[1].Source)
	require.Equal(t, "short", got[1].Snippet)

	require.Empty(t, s.Sources(nil))
}

func TestBuildPrompt(t *testing.T) {
	history := []Turn{
		{Question: "I feel stressed", Answer: "That sounds hard."},
		{Question: "What helps?", Answer: "Breathing exercises."},
	}
	prompt := BuildPrompt(threeChunks()[:2], history, "How long should I practice?")

	require.True(t, strings.HasPrefix(prompt, "You are a compassionate mental health support assistant."))
	require.Contains(t, prompt, "Context from mental health resources:\nAnxiety often shows up")
	require.Contains(t, prompt, "Grounding techniques")
	require.Contains(t, prompt, "Human: I feel stressed\nAssistant: That sounds hard.\nHuman: What helps?")
	require.Contains(t, prompt, "User's question: How long should I practice?")
	require.Contains(t, prompt, "- Never diagnose or prescribe treatment")
	require.True(t, strings.HasSuffix(prompt, "Your response:"))

	require.Less(t, strings.Index(prompt, "Context from"), strings.Index(prompt, "Previous conversation"))
	require.Less(t, strings.Index(prompt, "Previous conversation"), strings.Index(prompt, "User's question"))

	empty := BuildPrompt(nil, nil, "hi")
	require.Contains(t, empty, "Context from mental health resources:\n\n\nPrevious conversation:")
}
