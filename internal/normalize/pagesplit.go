package normalize

import (
	"regexp"
	"strings"
)

var (
	// "Page 3" / "Page 3 of 12" on its own line.
	pageMarkerRe = regexp.MustCompile(`(?mi)^\s*Page\s+\d+(\s+of\s+\d+)?\s*$`)

	// A bare page number on its own line, as printed in footers.
	lonePageNumberRe = regexp.MustCompile(`(?m)^\s*\d{1,3}\s*$`)
)

// SplitLogicalPages splits flat text into logical pages. Explicit page-break
// markers are tried first; when none are present, text is grouped into
// paragraph-bounded segments of at most maxSize characters. A paragraph
// longer than maxSize becomes its own segment rather than being cut.
func SplitLogicalPages(text string, maxSize int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxSize <= 0 {
		maxSize = 2500
	}

	if segments := splitOnFormFeed(text); len(segments) > 1 {
		return segments
	}
	if segments := splitOnPattern(text, pageMarkerRe); len(segments) > 1 {
		return segments
	}
	if segments := splitOnPattern(text, lonePageNumberRe); len(segments) > 1 {
		return segments
	}

	return splitOnParagraphs(text, maxSize)
}

func splitOnFormFeed(text string) []string {
	if !strings.Contains(text, "\f") {
		return nil
	}
	return trimSegments(strings.Split(text, "\f"))
}

func splitOnPattern(text string, re *regexp.Regexp) []string {
	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	var segments []string
	start := 0
	for _, loc := range locs {
		segments = append(segments, text[start:loc[0]])
		start = loc[1]
	}
	segments = append(segments, text[start:])
	return trimSegments(segments)
}

func splitOnParagraphs(text string, maxSize int) []string {
	if len(text) <= maxSize {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")
	var segments []string
	var current strings.Builder

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > maxSize {
			segments = append(segments, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		segments = append(segments, current.String())
	}
	return segments
}

func trimSegments(segments []string) []string {
	var out []string
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
