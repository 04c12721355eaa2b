// Package indexer provides heading-aware chunking and notebook file discovery.
package indexer

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/kioku/internal/fileid"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

const (
	// DefaultTargetSize is the passage length in characters (about 400 tokens).
	DefaultTargetSize = 1600
	// DefaultOverlap is the repeated context between passages of one section (about 80 tokens).
	DefaultOverlap = 320
	// DefaultMaxHeadingLevel is the deepest heading that starts a new section.
	DefaultMaxHeadingLevel = 3
)

// Chunker splits a document into heading-bounded, overlapping passages.
type Chunker struct {
	targetSize      int
	overlap         int
	maxHeadingLevel int
	md              goldmark.Markdown
}

// NewChunker creates a chunker with the given target size and overlap in characters.
// A non-positive target size falls back to the default. An overlap of 0 disables overlap.
func NewChunker(targetSize, overlap int) *Chunker {
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}
	if overlap < 0 || overlap >= targetSize {
		overlap = targetSize / 5
	}
	return &Chunker{
		targetSize:      targetSize,
		overlap:         overlap,
		maxHeadingLevel: DefaultMaxHeadingLevel,
		md:              goldmark.New(goldmark.WithExtensions(extension.Table)),
	}
}

type heading struct {
	line int // 1-based
	text string
}

type section struct {
	heading string
	lines   []line
}

type line struct {
	no   int
	text string
}

// Chunk splits content into ordered chunks without ids or file paths.
// Output is deterministic for identical input.
func (c *Chunker) Chunk(content []byte) []*models.Chunk {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil
	}
	headings := c.findHeadings(content)
	sections := splitSections(content, headings)

	var chunks []*models.Chunk
	for _, s := range sections {
		for _, piece := range c.splitSection(s) {
			piece.Ordinal = len(chunks)
			chunks = append(chunks, piece)
		}
	}
	return chunks
}

// findHeadings returns headings up to maxHeadingLevel in source order.
func (c *Chunker) findHeadings(content []byte) []heading {
	doc := c.md.Parser().Parse(text.NewReader(content))
	var out []heading
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if h.Level <= c.maxHeadingLevel && h.Lines().Len() > 0 {
			start := h.Lines().At(0).Start
			out = append(out, heading{
				line: bytes.Count(content[:start], []byte("\n")) + 1,
				text: headingText(h, content),
			})
		}
		return ast.WalkSkipChildren, nil
	})
	return out
}

func headingText(n ast.Node, content []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(content))
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// splitSections cuts the document at heading lines. Text before the first heading
// forms a section with no heading.
func splitSections(content []byte, headings []heading) []section {
	raw := strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n")
	var sections []section
	cur := section{}
	next := 0
	for i, l := range raw {
		no := i + 1
		if next < len(headings) && headings[next].line == no {
			sections = append(sections, cur)
			cur = section{heading: headings[next].text}
			next++
		}
		cur.lines = append(cur.lines, line{no: no, text: l})
	}
	sections = append(sections, cur)
	return sections
}

// splitSection packs a section's lines into passages of at most targetSize characters.
// Each passage after the first starts with the trailing overlap characters of the one before.
func (c *Chunker) splitSection(s section) []*models.Chunk {
	segs := c.segments(s.lines)
	for len(segs) > 0 && strings.TrimSpace(segs[len(segs)-1].text) == "" {
		segs = segs[:len(segs)-1]
	}
	for len(segs) > 0 && strings.TrimSpace(segs[0].text) == "" {
		segs = segs[1:]
	}
	if len(segs) == 0 {
		return nil
	}

	var out []*models.Chunk
	var carry *line
	i := 0
	for i < len(segs) {
		budget := c.targetSize
		if carry != nil {
			budget -= len(carry.text) + 1
		}
		size := 0
		j := i
		for j < len(segs) && (j == i || size+len(segs[j].text)+1 <= budget) {
			size += len(segs[j].text) + 1
			j++
		}
		if blank(segs[i:j]) {
			i = j
			continue
		}
		parts := segs[i:j]
		if carry != nil {
			parts = append([]line{*carry}, parts...)
		}
		if ch := newChunk(s.heading, parts); ch != nil {
			out = append(out, ch)
		}
		carry = c.tail(parts)
		i = j
	}
	return out
}

// tail returns the last overlap characters of parts as one line numbered after the
// line the text starts in. It starts on a word boundary when one is near.
func (c *Chunker) tail(parts []line) *line {
	if c.overlap == 0 {
		return nil
	}
	var b strings.Builder
	for k, p := range parts {
		if k > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p.text)
	}
	body := strings.TrimRightFunc(b.String(), unicode.IsSpace)
	start := len(body) - c.overlap
	if start < 0 {
		start = 0
	}
	for start < len(body) && !utf8.RuneStart(body[start]) {
		start++
	}
	if start > 0 {
		if sp := strings.IndexAny(body[start:], " \n"); sp >= 0 && sp < c.overlap/2 {
			start += sp + 1
		}
	}
	text := strings.TrimSpace(body[start:])
	if text == "" {
		return nil
	}

	no := parts[len(parts)-1].no
	offset := 0
	for _, p := range parts {
		if offset+len(p.text) >= start {
			no = p.no
			break
		}
		offset += len(p.text) + 1
	}
	return &line{no: no, text: text}
}

func blank(segs []line) bool {
	for _, s := range segs {
		if strings.TrimSpace(s.text) != "" {
			return false
		}
	}
	return true
}

// segments breaks long lines into rune-safe pieces that keep their line number.
// Pieces leave room for the overlap carried in from the previous passage.
func (c *Chunker) segments(lines []line) []line {
	max := c.targetSize - c.overlap - 1
	if max < 1 {
		max = 1
	}
	out := make([]line, 0, len(lines))
	for _, l := range lines {
		t := l.text
		for len(t) > max {
			cut := cutPoint(t, max)
			out = append(out, line{no: l.no, text: t[:cut]})
			t = t[cut:]
		}
		out = append(out, line{no: l.no, text: t})
	}
	return out
}

// cutPoint returns a byte offset <= max that falls on a rune boundary, preferring the last space.
func cutPoint(s string, max int) int {
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if sp := strings.LastIndexByte(s[:cut], ' '); sp > cut/2 {
		cut = sp + 1
	}
	if cut == 0 {
		_, size := utf8.DecodeRuneInString(s)
		cut = size
	}
	return cut
}

func newChunk(heading string, segs []line) *models.Chunk {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.text
	}
	body := strings.TrimSpace(strings.Join(parts, "\n"))
	if body == "" {
		return nil
	}
	return &models.Chunk{
		Heading:   heading,
		StartLine: segs[0].no,
		EndLine:   segs[len(segs)-1].no,
		Text:      body,
		Hash:      fileid.TextHash(body),
	}
}
