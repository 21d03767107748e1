// Package textutil turns markup into plain text for chunking.
package textutil

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var (
	md = goldmark.New(goldmark.WithExtensions(extension.GFM))

	manyBlankLines = regexp.MustCompile(`\n{3,}`)
	trailingSpace  = regexp.MustCompile(`[ \t]+\n`)
)

// MarkdownToText renders markdown as plain text: markup and link targets are
// dropped, block elements are separated by blank lines and table cells by
// " | ".
func MarkdownToText(src string) string {
	source := []byte(src)
	doc := md.Parser().Parse(text.NewReader(source))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				buf.Write(node.Label(source))
			}
		case *ast.Image:
			// alt text is kept through the child text nodes
			return ast.WalkContinue, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(source))
				}
				buf.WriteString("\n")
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *extast.TableCell:
			if !entering && n.NextSibling() != nil {
				buf.WriteString(" | ")
			}
		case *extast.TableRow, *extast.TableHeader:
			if !entering {
				buf.WriteString("\n")
			}
		case *ast.ListItem:
			if entering {
				buf.WriteString("- ")
			} else {
				buf.WriteString("\n")
			}
		case *ast.Paragraph, *ast.Heading, *ast.Blockquote, *ast.List, *ast.ThematicBreak, *extast.Table:
			if !entering {
				buf.WriteString("\n\n")
			}
		case *ast.TextBlock:
			if !entering && n.NextSibling() != nil {
				buf.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})

	return tidy(buf.String())
}

func tidy(s string) string {
	s = trailingSpace.ReplaceAllString(s, "\n")
	s = manyBlankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
