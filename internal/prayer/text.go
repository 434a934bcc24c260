package prayer

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/text/unicode/norm"
)

var markdown = goldmark.New()

// SpeakableText returns the text to speak for p: the title followed by the
// body with markdown formatting stripped, in NFC. Code blocks are skipped.
func SpeakableText(p Prayer) string {
	var parts []string
	if t := strings.TrimSpace(p.Title); t != "" {
		parts = append(parts, ensureStop(t))
	}
	if b := StripMarkdown(p.Body); b != "" {
		parts = append(parts, b)
	}
	return norm.NFC.String(strings.Join(parts, " "))
}

// StripMarkdown flattens markdown into plain sentences.
func StripMarkdown(source string) string {
	src := []byte(source)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var blocks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			blocks = append(blocks, ensureStop(s))
		}
		cur.Reset()
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock:
			if !entering {
				flush()
			}
		case *ast.Text:
			if entering {
				cur.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					cur.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				cur.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				cur.Write(node.Label(src))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	flush()

	return strings.Join(blocks, " ")
}

func ensureStop(s string) string {
	switch s[len(s)-1] {
	case '.', '!', '?', ':', ';':
		return s
	}
	return s + "."
}
