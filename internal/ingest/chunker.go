package ingest

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"gwi.com/mindcare-assistant/internal/store"
)

// Chunker splits sections into overlapping word windows. Paragraphs are
// chunked independently so a chunk never spans a blank line.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap in words.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

func (c *Chunker) Chunk(section Section) []store.DataChunk {
	if section.TableRow {
		text := strings.Join(strings.Fields(section.Text), " ")
		if text == "" {
			return nil
		}
		return []store.DataChunk{c.newChunk(section, text, store.ChunkTypeTableRow)}
	}

	var chunks []store.DataChunk
	for _, para := range paragraphBreak.Split(section.Text, -1) {
		kind := Classify(para)
		for _, window := range c.windows(strings.Fields(para)) {
			chunks = append(chunks, c.newChunk(section, window, kind))
		}
	}
	return chunks
}

func (c *Chunker) windows(words []string) []string {
	if len(words) == 0 {
		return nil
	}
	step := c.chunkSize - c.chunkOverlap
	if step <= 0 {
		step = 1
	}
	var out []string
	for i := 0; i < len(words); i += step {
		end := i + c.chunkSize
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], " "))
		if end >= len(words) {
			break
		}
	}
	return out
}

func (c *Chunker) newChunk(section Section, text, kind string) store.DataChunk {
	return store.DataChunk{
		ID:        uuid.NewString(),
		Content:   text,
		Source:    section.Source,
		Page:      section.Page,
		ChunkType: kind,
	}
}

var (
	listItem   = regexp.MustCompile(`^\s*([-*•]|\d+[.)])\s+`)
	qaQuestion = regexp.MustCompile(`(?i)^\s*(q|question)\s*[:.]`)
	qaAnswer   = regexp.MustCompile(`(?im)^\s*(a|answer)\s*[:.]`)
)

// Classify tags a paragraph as a list, a question/answer pair or prose.
func Classify(paragraph string) string {
	lines := strings.Split(strings.TrimSpace(paragraph), "\n")
	if qaQuestion.MatchString(lines[0]) && qaAnswer.MatchString(paragraph) {
		return store.ChunkTypeQA
	}
	if len(lines) > 1 && strings.HasSuffix(strings.TrimSpace(lines[0]), "?") {
		return store.ChunkTypeQA
	}
	items := 0
	for _, l := range lines {
		if listItem.MatchString(l) {
			items++
		}
	}
	if items >= 2 && items*2 >= len(lines) {
		return store.ChunkTypeList
	}
	return store.ChunkTypeParagraph
}
