package parser

import (
	"strings"

	"github.com/shineum/smtp-intake/internal/email"
)

// Section is one boundary-delimited part of a multipart body.
type Section struct {
	Header  *email.Header
	Content string
}

// SplitMultipart splits a multipart body on the delimiter lines of boundary.
//
// Delimiter lines are "--boundary" and the close delimiter "--boundary--",
// both with trailing whitespace tolerated. Text before the first delimiter
// and after the close delimiter is discarded, as are sections made only of
// whitespace. Leading empty lines of a section are skipped before its header
// block is read; a section without a header/content separator is dropped.
// Content lines are joined with CRLF.
func SplitMultipart(body, boundary string) []Section {
	if boundary == "" {
		return nil
	}
	delim := "--" + boundary
	closeDelim := delim + "--"

	var (
		sections []Section
		current  []string
		started  bool
	)

	flush := func() {
		if s, ok := newSection(current); ok {
			sections = append(sections, s)
		}
		current = nil
	}

	for _, line := range splitLines(body) {
		trimmed := strings.TrimRight(line, " \t")
		switch trimmed {
		case closeDelim:
			if started {
				flush()
			}
			return sections
		case delim:
			if started {
				flush()
			}
			started = true
			continue
		}
		if started {
			current = append(current, line)
		}
	}

	if started {
		flush()
	}
	return sections
}

func newSection(lines []string) (Section, bool) {
	if isBlank(lines) {
		return Section{}, false
	}
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}

	header, content, found := readHeaderBlock(lines)
	if !found {
		return Section{}, false
	}
	return Section{Header: header, Content: strings.Join(content, "\r\n")}, true
}

func isBlank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}
