package core

import (
	"strings"

	"gwi.com/mindcare-assistant/internal/utils"
)

// Source is a citation as presented to the user.
type Source struct {
	Source    string `json:"source"`
	Page      string `json:"page"`
	ChunkType string `json:"chunk_type"`
	Snippet   string `json:"snippet"`
}

// Shaper appends the safety disclaimer and trims citations for display.
type Shaper struct {
	disclaimer    string
	sourceCount   int
	snippetLength int
}

func NewShaper(disclaimer string, sourceCount, snippetLength int) *Shaper {
	return &Shaper{disclaimer: disclaimer, sourceCount: sourceCount, snippetLength: snippetLength}
}

// Shape appends the disclaimer unless answer already ends with it, so
// applying Shape twice yields the same text as applying it once.
func (s *Shaper) Shape(answer string) string {
	if s.disclaimer == "" || strings.HasSuffix(answer, s.disclaimer) {
		return answer
	}
	return answer + s.disclaimer
}

// Sources keeps the first sourceCount chunks with truncated snippets.
func (s *Shaper) Sources(chunks []RetrievedChunk) []Source {
	n := len(chunks)
	if s.sourceCount >= 0 && n > s.sourceCount {
		n = s.sourceCount
	}
	out := make([]Source, 0, n)
	for _, c := range chunks[:n] {
		out = append(out, Source{
			Source:    orDefault(c.Source, "Unknown"),
			Page:      orDefault(c.Page, "N/A"),
			ChunkType: orDefault(c.ChunkType, "unknown"),
			Snippet:   utils.Truncate(c.Content, s.snippetLength),
		})
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
