package parser

import (
	"strings"

	"github.com/shineum/smtp-intake/internal/email"
)

// splitLines normalises CRLF to LF and splits s into lines. The returned
// lines carry no terminator.
func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

// readHeaderBlock consumes header lines up to the first empty line.
//
// A line starting with SP or HTAB continues the most recently parsed header.
// Any other line is split at its first colon; lines without a colon, or with
// a colon in first position, are ignored. The remaining lines after the empty
// line are returned as the body. found reports whether the empty line was
// present at all; when it is not, every line is header and body is nil.
func readHeaderBlock(lines []string) (header *email.Header, body []string, found bool) {
	header = email.NewHeader()
	last := ""

	for i, line := range lines {
		if line == "" {
			return header, lines[i+1:], true
		}

		if line[0] == ' ' || line[0] == '\t' {
			if last != "" {
				header.Fold(last, strings.TrimLeft(line, " \t"))
			}
			continue
		}

		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:colon])
		if key == "" {
			continue
		}
		header.Set(key, strings.TrimLeft(line[colon+1:], " \t"))
		last = key
	}

	return header, nil, false
}
