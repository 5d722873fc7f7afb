// ABOUTME: Converts CommonMark replies into WhatsApp message markup
// ABOUTME: Parses with goldmark and walks the AST, emitting WhatsApp's emphasis and code syntax

package format

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// WhatsApp converts markdown into WhatsApp markup. Plain text passes through.
func WhatsApp(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return markdown
	}
	src := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(src))

	r := &waRenderer{src: src}
	return strings.TrimRight(r.blocks(doc, "\n\n"), " \n")
}

type waRenderer struct {
	src []byte
}

// blocks renders the block children of parent joined by sep.
func (r *waRenderer) blocks(parent ast.Node, sep string) string {
	var parts []string
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		if out := r.block(c); out != "" {
			parts = append(parts, out)
		}
	}
	return strings.Join(parts, sep)
}

func (r *waRenderer) block(n ast.Node) string {
	switch n := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return r.inlines(n)
	case *ast.Heading:
		return "*" + r.inlines(n) + "*"
	case *ast.ThematicBreak:
		return "---"
	case *ast.FencedCodeBlock:
		return "```\n" + r.lines(n) + "```"
	case *ast.CodeBlock:
		return "```\n" + r.lines(n) + "```"
	case *ast.HTMLBlock:
		return strings.TrimRight(r.lines(n), "\n")
	case *ast.Blockquote:
		return prefixLines(r.blocks(n, "\n\n"), "> ", "> ")
	case *ast.List:
		return r.list(n)
	default:
		return r.blocks(n, "\n\n")
	}
}

func (r *waRenderer) list(list *ast.List) string {
	var items []string
	num := list.Start
	for c := list.FirstChild(); c != nil; c = c.NextSibling() {
		marker := "- "
		if list.IsOrdered() {
			marker = fmt.Sprintf("%d. ", num)
			num++
		}
		body := r.blocks(c, "\n")
		items = append(items, prefixLines(body, marker, strings.Repeat(" ", len(marker))))
	}
	return strings.Join(items, "\n")
}

func (r *waRenderer) lines(n ast.Node) string {
	var b strings.Builder
	segs := n.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		b.Write(seg.Value(r.src))
	}
	return b.String()
}

func (r *waRenderer) inlines(parent ast.Node) string {
	var b strings.Builder
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		r.inline(&b, c)
	}
	return b.String()
}

func (r *waRenderer) inline(b *strings.Builder, n ast.Node) {
	switch n := n.(type) {
	case *ast.Text:
		b.Write(util.UnescapePunctuations(n.Segment.Value(r.src)))
		if n.SoftLineBreak() || n.HardLineBreak() {
			b.WriteByte('\n')
		}
	case *ast.String:
		b.Write(n.Value)
	case *ast.Emphasis:
		mark := "_"
		if n.Level >= 2 {
			mark = "*"
		}
		b.WriteString(mark + r.inlines(n) + mark)
	case *east.Strikethrough:
		b.WriteString("~" + r.inlines(n) + "~")
	case *ast.CodeSpan:
		b.WriteString("`" + r.raw(n) + "`")
	case *ast.Link:
		label := r.inlines(n)
		dest := string(n.Destination)
		if label == "" || label == dest {
			b.WriteString(dest)
		} else {
			b.WriteString(label + " (" + dest + ")")
		}
	case *ast.AutoLink:
		b.Write(n.URL(r.src))
	case *ast.Image:
		label := r.inlines(n)
		if label != "" {
			b.WriteString(label + " ")
		}
		b.WriteString("(" + string(n.Destination) + ")")
	case *ast.RawHTML:
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			b.Write(seg.Value(r.src))
		}
	default:
		b.WriteString(r.inlines(n))
	}
}

// raw concatenates the source text of the Text children of n without unescaping.
func (r *waRenderer) raw(n ast.Node) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(r.src))
		}
	}
	return b.String()
}

// prefixLines prefixes the first line with first and every later non-empty line with rest.
func prefixLines(s, first, rest string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		switch {
		case i == 0:
			lines[i] = first + line
		case line == "":
			lines[i] = strings.TrimRight(rest, " ")
		default:
			lines[i] = rest + line
		}
	}
	return strings.Join(lines, "\n")
}
