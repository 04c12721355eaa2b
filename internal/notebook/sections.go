package notebook

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type headingLine struct {
	first int // 1-based line of the heading text
	last  int // last line of the heading, including a setext underline
	level int
	text  string
}

// headings returns every markdown heading in source order. Headings inside code
// blocks are not reported.
func (n *Notebook) headings(content []byte) []headingLine {
	doc := n.md.Parser().Parse(text.NewReader(content))
	var out []headingLine
	_ = ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := node.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		segs := h.Lines()
		if segs.Len() == 0 {
			return ast.WalkSkipChildren, nil
		}
		first := bytes.Count(content[:segs.At(0).Start], []byte("\n")) + 1
		last := bytes.Count(content[:segs.At(segs.Len()-1).Start], []byte("\n")) + 1
		if !isATX(content, segs.At(0).Start) {
			last++
		}
		out = append(out, headingLine{first: first, last: last, level: h.Level, text: inlineText(h, content)})
		return ast.WalkSkipChildren, nil
	})
	return out
}

// isATX reports whether the heading whose text starts at offset is written with '#'.
func isATX(content []byte, offset int) bool {
	start := bytes.LastIndexByte(content[:offset], '\n') + 1
	return strings.HasPrefix(strings.TrimLeft(string(content[start:offset]), " "), "#")
}

func inlineText(n ast.Node, content []byte) string {
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

// applySection rewrites the body of the first section titled title. A section runs
// until the next heading of the same or a higher level. When no such section exists
// a level-2 section is appended to the document.
func (n *Notebook) applySection(content []byte, title string, edit func(body []string) []string) string {
	title = strings.TrimSpace(strings.TrimLeft(title, "#"))
	normalized := []byte(strings.ReplaceAll(string(content), "\r\n", "\n"))
	lines := splitLines(string(normalized))

	var target *headingLine
	hs := n.headings(normalized)
	for i := range hs {
		if strings.EqualFold(hs[i].text, title) {
			target = &hs[i]
			break
		}
	}

	var out []string
	if target == nil {
		out = trimBlankTail(lines)
		if len(out) > 0 {
			out = append(out, "")
		}
		out = append(out, "## "+title, "")
		out = append(out, trimBlankHead(edit(nil))...)
		return strings.Join(out, "\n") + "\n"
	}

	end := len(lines)
	for _, h := range hs {
		if h.first > target.last && h.level <= target.level {
			end = h.first - 1
			break
		}
	}
	start := min(target.last, len(lines))
	body := trimBlankHead(edit(append([]string(nil), lines[start:end]...)))

	out = append(out, lines[:start]...)
	out = append(out, "")
	out = append(out, trimBlankTail(body)...)
	if end < len(lines) {
		out = append(out, "")
		out = append(out, lines[end:]...)
	}
	return strings.Join(out, "\n") + "\n"
}

func trimBlankHead(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	return lines
}
