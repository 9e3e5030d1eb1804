//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package report

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

const htmlHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>body{font-family:sans-serif;max-width:48em;margin:2em auto;line-height:1.5}</style>
</head>
<body>
`

func (r *Report) writeHTML(w io.Writer) error {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(r.Body), &body); err != nil {
		return fmt.Errorf("convert markdown: %w", err)
	}
	if _, err := fmt.Fprintf(w, htmlHead, html.EscapeString(r.Title)); err != nil {
		return err
	}
	if _, err := body.WriteTo(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, "</body>\n</html>\n")
	return err
}

var headingSizes = map[int]float64{1: 18, 2: 15, 3: 13}

const (
	bodySize   = 11
	lineHeight = 6
)

func (r *Report) writePDF(w io.Writer) error {
	src := []byte(r.Body)
	doc := markdown.Parser().Parse(text.NewReader(src))

	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(r.Title, true)
	pdf.SetCreator("deepresearch", true)
	pdf.AddPage()

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			size, ok := headingSizes[node.Level]
			if !ok {
				size = bodySize + 1
			}
			pdf.SetFont("Helvetica", "B", size)
			pdf.Ln(2)
			pdf.MultiCell(0, lineHeight+2, tr(inlineText(node, src)), "", "L", false)
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph:
			pdf.SetFont("Helvetica", "", bodySize)
			pdf.MultiCell(0, lineHeight, tr(inlineText(node, src)), "", "L", false)
			pdf.Ln(2)
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			pdf.SetFont("Helvetica", "", bodySize)
			pdf.MultiCell(0, lineHeight, tr(bullet(node)+inlineText(node, src)), "", "L", false)
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			pdf.SetFont("Courier", "", bodySize-1)
			pdf.MultiCell(0, lineHeight-1, tr(blockLines(node, src)), "", "L", false)
			pdf.Ln(2)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return pdf.Output(w)
}

func bullet(item *ast.ListItem) string {
	list, ok := item.Parent().(*ast.List)
	if !ok || !list.IsOrdered() {
		return "- "
	}
	i := list.Start
	for c := list.FirstChild(); c != nil && c != ast.Node(item); c = c.NextSibling() {
		i++
	}
	return fmt.Sprintf("%d. ", i)
}

// inlineText flattens the text below n, joining blocks with spaces.
func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		default:
			if c != n && c.Type() == ast.TypeBlock && b.Len() > 0 {
				b.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func blockLines(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return strings.TrimRight(b.String(), "\n")
}
