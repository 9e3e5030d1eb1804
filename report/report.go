//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package report persists the final report of a research run as markdown,
// HTML or PDF.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"trpc.group/trpc-go/deepresearch-go/log"
)

// Format is an output format of a report.
type Format string

// Supported formats.
const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
)

// ErrEmptyReport is returned when a report has no body.
var ErrEmptyReport = errors.New("report: empty body")

// ParseFormats converts format names such as "md" or "PDF" into formats.
func ParseFormats(names []string) ([]Format, error) {
	formats := make([]Format, 0, len(names))
	seen := make(map[Format]bool)
	for _, name := range names {
		var f Format
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "md", "markdown":
			f = FormatMarkdown
		case "html", "htm":
			f = FormatHTML
		case "pdf":
			f = FormatPDF
		default:
			return nil, fmt.Errorf("report: unknown format %q", name)
		}
		if !seen[f] {
			seen[f] = true
			formats = append(formats, f)
		}
	}
	return formats, nil
}

// Report is a rendered research result.
type Report struct {
	Title     string
	Query     string
	ThreadID  string
	Body      string
	CreatedAt time.Time
}

// New builds a report from a markdown body. The title is the first level one
// heading of the body, or the title-cased query when there is none.
func New(query, threadID, body string) (*Report, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyReport
	}
	return &Report{
		Title:     titleOf(query, body),
		Query:     query,
		ThreadID:  threadID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func titleOf(query, body string) string {
	for _, line := range strings.Split(body, "\n") {
		if h, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok && strings.TrimSpace(h) != "" {
			return strings.TrimSpace(h)
		}
	}
	q := strings.TrimRight(strings.TrimSpace(query), "?.! ")
	if q == "" {
		return "Research Report"
	}
	return cases.Title(language.English, cases.NoLower).String(q)
}

// Write renders r in format f to w.
func (r *Report) Write(w io.Writer, f Format) error {
	switch f {
	case FormatMarkdown:
		_, err := io.WriteString(w, r.Body)
		return err
	case FormatHTML:
		return r.writeHTML(w)
	case FormatPDF:
		return r.writePDF(w)
	default:
		return fmt.Errorf("report: unknown format %q", f)
	}
}

// Save writes r to dir once per format and returns the written paths.
func Save(dir string, r *Report, formats ...Format) ([]string, error) {
	if len(formats) == 0 {
		formats = []Format{FormatMarkdown}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	base := slug(r.Title)
	if r.ThreadID != "" {
		base += "-" + slug(r.ThreadID)
	}
	paths := make([]string, 0, len(formats))
	for _, f := range formats {
		path := filepath.Join(dir, base+"."+string(f))
		if err := writeFile(path, r, f); err != nil {
			return paths, err
		}
		log.Infof("report: saved %s", path)
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, r *Report, f Format) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := r.Write(file, f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

const maxSlugLen = 60

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if r := []rune(out); len(r) > maxSlugLen {
		out = strings.TrimRight(string(r[:maxSlugLen]), "-")
	}
	if out == "" {
		return "report"
	}
	return out
}
