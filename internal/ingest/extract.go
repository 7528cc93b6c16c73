// Package ingest turns source documents into embedded chunks in the store.
package ingest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"gwi.com/mindcare-assistant/internal/store"
)

// Section is a span of extracted text with its locator. TableRow sections
// are indexed as a single chunk.
type Section struct {
	Text     string
	Source   string
	Page     string
	TableRow bool
}

// SupportedExtensions lists the file types picked up when walking a directory.
var SupportedExtensions = map[string]bool{".pdf": true, ".md": true, ".txt": true}

// ExtractFile reads path and splits it into sections. PDFs yield one section
// per page; markdown table rows become individual sections.
func ExtractFile(path string) ([]Section, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	source := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(content, source)
	case ".md":
		return extractMarkdown(plainText(content), source), nil
	default:
		return []Section{{Text: plainText(content), Source: source, Page: store.NoPage}}, nil
	}
}

func extractPDF(content []byte, source string) ([]Section, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	var sections []Section
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		sections = append(sections, Section{Text: text, Source: source, Page: strconv.Itoa(i)})
	}
	return sections, nil
}

// extractMarkdown emits every single-column table row as its own section,
// skipping header and separator rows, and gathers the remaining lines into
// one prose section.
func extractMarkdown(text, source string) []Section {
	var sections []Section
	var prose []string
	inTable := false

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		isRow := strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|") && len(trimmed) > 1
		if !isRow {
			inTable = false
			prose = append(prose, line)
			continue
		}

		if !inTable {
			// First row of a table is its header.
			inTable = true
			continue
		}
		if isSeparatorRow(trimmed) {
			continue
		}
		parts := strings.Split(trimmed, "|")
		if len(parts) < 3 {
			continue
		}
		cell := strings.TrimSpace(parts[1])
		if cell == "" {
			continue
		}
		sections = append(sections, Section{Text: cell, Source: source, Page: store.NoPage, TableRow: true})
	}

	if body := strings.TrimSpace(strings.Join(prose, "\n")); body != "" {
		sections = append([]Section{{Text: body, Source: source, Page: store.NoPage}}, sections...)
	}
	return sections
}

func isSeparatorRow(row string) bool {
	return strings.Trim(row, "|-: ") == ""
}

func plainText(content []byte) string {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "\ufffd")
	}
	return string(content)
}
