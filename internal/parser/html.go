package parser

import (
	"strings"

	"golang.org/x/net/html"
)

// HTMLToText derives a plain-text rendition of an HTML body. Script and style
// elements are dropped with their content, every other tag becomes a space,
// entities are decoded, and whitespace runs collapse to one space.
func HTMLToText(s string) string {
	var (
		b    strings.Builder
		skip int
	)

	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			if isRawTextTag(z) {
				skip++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			if isRawTextTag(z) && skip > 0 {
				skip--
			}
			b.WriteByte(' ')
		default:
			b.WriteByte(' ')
		}
	}
}

func isRawTextTag(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch string(name) {
	case "script", "style":
		return true
	}
	return false
}
