package normalize

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var (
	streamRe = regexp.MustCompile(`(?s)stream\r?\n(.*?)endstream`)

	// Literal strings drawn by Tj or inside TJ arrays.
	tjRe      = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*Tj`)
	tjArrayRe = regexp.MustCompile(`\[((?:[^\[\]\\]|\\.)*)\]\s*TJ`)
	literalRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)
)

// extractRawText scans the PDF binary for text-showing operators, inflating
// compressed content streams where possible. This is a best-effort fallback
// for when the parsing service is unavailable; it handles simple encodings
// only.
func extractRawText(data []byte) (string, error) {
	var out strings.Builder

	for _, match := range streamRe.FindAllSubmatch(data, -1) {
		content := match[1]
		if inflated, err := inflate(content); err == nil {
			content = inflated
		}
		collectTextOperators(content, &out)
	}

	// Some producers leave content streams uncompressed outside stream
	// objects; scan the whole file as a last resort.
	if out.Len() == 0 {
		collectTextOperators(data, &out)
	}

	text := strings.TrimSpace(out.String())
	if len(text) < 20 {
		return "", fmt.Errorf("no extractable text operators found")
	}
	return text, nil
}

func collectTextOperators(content []byte, out *strings.Builder) {
	for _, m := range tjRe.FindAllSubmatch(content, -1) {
		writeLiteral(out, m[1])
	}
	for _, m := range tjArrayRe.FindAllSubmatch(content, -1) {
		for _, lit := range literalRe.FindAllSubmatch(m[1], -1) {
			writeLiteral(out, lit[1])
		}
		out.WriteByte('\n')
	}
}

// writeLiteral unescapes a PDF literal string and appends its printable runs.
func writeLiteral(out *strings.Builder, lit []byte) {
	var buf bytes.Buffer
	for i := 0; i < len(lit); i++ {
		c := lit[i]
		if c == '\\' && i+1 < len(lit) {
			i++
			switch lit[i] {
			case 'n':
				buf.WriteByte('\n')
			case 'r', 't':
				buf.WriteByte(' ')
			case '(', ')', '\\':
				buf.WriteByte(lit[i])
			}
			continue
		}
		if c >= 0x20 && c < 0x7f {
			buf.WriteByte(c)
		}
	}
	if buf.Len() == 0 {
		return
	}
	out.Write(buf.Bytes())
	out.WriteByte('\n')
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	inflated, err := io.ReadAll(r)
	if err != nil && len(inflated) == 0 {
		return nil, err
	}
	return inflated, nil
}
