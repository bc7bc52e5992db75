// Package chunk splits normalized documents into ordered, overlapping text
// chunks sized for embedding and retrieval.
package chunk

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/meridianlabs/valuation-engine/internal/docparse"
	"github.com/meridianlabs/valuation-engine/internal/normalize"
)

// Chunk is one ordered unit of document text. Index is the position within
// the document; the slice a Chunker returns is always index-ordered.
type Chunk struct {
	Index    int
	Page     int
	Text     string
	IsVisual bool
	Element  string // visual element ID when IsVisual
}

// Chunker splits documents into overlapping chunks.
type Chunker struct {
	maxSize      int // chunk size ceiling in characters
	overlapWords int // words carried from one chunk into the next
}

// New creates a Chunker. Zero values select the defaults of 2000 characters
// and a 20-word overlap.
func New(maxSize, overlapWords int) *Chunker {
	if maxSize <= 0 {
		maxSize = 2000
	}
	if overlapWords < 0 {
		overlapWords = 20
	}
	return &Chunker{maxSize: maxSize, overlapWords: overlapWords}
}

// Split chunks a normalized document page by page. Visual elements are
// rendered as standalone chunks ahead of the page text so tables and charts
// survive as coherent units. A page that fits under the size ceiling becomes
// a single chunk keeping its page attribution, and an empty document still
// yields one chunk so downstream stages always have a unit to work with.
func (c *Chunker) Split(doc *normalize.Document) []Chunk {
	var chunks []Chunk
	add := func(page int, text string, isVisual bool, element string) {
		chunks = append(chunks, Chunk{
			Index:    len(chunks),
			Page:     page,
			Text:     text,
			IsVisual: isVisual,
			Element:  element,
		})
	}

	for _, el := range doc.Elements {
		add(el.Page, renderElement(el), true, el.ID)
	}

	for _, page := range doc.Pages {
		for _, text := range c.splitText(page.Text) {
			add(page.Number, text, false, "")
		}
	}
	if len(chunks) == 0 {
		add(1, "", false, "")
	}
	return chunks
}

// splitText accumulates sentences up to the size ceiling, seeding each new
// chunk with the tail words of the previous one for context continuity.
func (c *Chunker) splitText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.maxSize {
		return []string{text}
	}

	sentences := splitSentences(text)
	var out []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunk := strings.TrimSpace(current.String())
		out = append(out, chunk)
		current.Reset()
		if overlap := tailWords(chunk, c.overlapWords); overlap != "" {
			current.WriteString(overlap)
		}
	}

	for _, sentence := range sentences {
		if current.Len() > 0 && current.Len()+len(sentence)+1 > c.maxSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	if strings.TrimSpace(current.String()) != "" {
		out = append(out, strings.TrimSpace(current.String()))
	}
	return out
}

var sentenceEndRe = regexp.MustCompile(`([.!?])\s+`)

// splitSentences breaks text at sentence-ending punctuation followed by
// whitespace. Abbreviations are not special-cased; slightly short sentences
// only shrink chunks, never corrupt them.
func splitSentences(text string) []string {
	marked := sentenceEndRe.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")

	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// tailWords returns the last n words of text.
func tailWords(text string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[len(words)-n:], " ")
}

// renderElement flattens a visual element into a labeled text block.
func renderElement(el docparse.VisualElement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (Page %d)", strings.ToUpper(string(el.Type)), el.Page)
	if el.Title != "" {
		fmt.Fprintf(&b, ": %s", el.Title)
	}
	if el.Description != "" {
		fmt.Fprintf(&b, "\n%s", el.Description)
	}
	if el.Content != "" {
		fmt.Fprintf(&b, "\n%s", el.Content)
	}
	names := make([]string, 0, len(el.Series))
	for name := range el.Series {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "\n%s:", name)
		for _, v := range el.Series[name] {
			fmt.Fprintf(&b, " %g", v)
		}
	}
	return b.String()
}
