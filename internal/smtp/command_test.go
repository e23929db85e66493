package smtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want Command
	}{
		{line: "EHLO example.com", want: Command{Verb: "EHLO", Arg: "example.com"}},
		{line: "ehlo example.com", want: Command{Verb: "EHLO", Arg: "example.com"}},
		{line: "MAIL FROM:<user@example.com>", want: Command{Verb: "MAIL", Arg: "FROM:<user@example.com>"}},
		{line: "RCPT   TO:<a@b>  ", want: Command{Verb: "RCPT", Arg: "TO:<a@b>"}},
		{line: "QUIT", want: Command{Verb: "QUIT"}},
		{line: "  noop", want: Command{Verb: "NOOP"}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, parseCommand(tt.line))
		})
	}
}

func TestParsePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		arg    string
		prefix string
		want   string
		wantOK bool
	}{
		{name: "simple", arg: "FROM:<a@b>", prefix: "FROM:", want: "a@b", wantOK: true},
		{name: "lowercase prefix", arg: "from:<a@b>", prefix: "FROM:", want: "a@b", wantOK: true},
		{name: "space after colon", arg: "FROM: <a@b>", prefix: "FROM:", want: "a@b", wantOK: true},
		{name: "esmtp parameters ignored", arg: "FROM:<a@b> SIZE=1000 BODY=8BITMIME", prefix: "FROM:", want: "a@b", wantOK: true},
		{name: "recipient", arg: "TO:<c@d>", prefix: "TO:", want: "c@d", wantOK: true},
		{name: "no angle brackets", arg: "FROM:bad", prefix: "FROM:"},
		{name: "null path", arg: "FROM:<>", prefix: "FROM:"},
		{name: "unterminated", arg: "FROM:<a@b", prefix: "FROM:"},
		{name: "wrong prefix", arg: "TO:<a@b>", prefix: "FROM:"},
		{name: "empty", arg: "", prefix: "FROM:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parsePath(tt.arg, tt.prefix)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReplyString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "250 OK\r\n", newReply(CodeOK, "OK").String())
	assert.Equal(t, "250-mx Hello\r\n250-AUTH PLAIN\r\n250 SMTPUTF8\r\n",
		newReply(CodeOK, "mx Hello", "AUTH PLAIN", "SMTPUTF8").String())
	assert.Equal(t, "354\r\n", Reply{Code: CodeStartData}.String())
}
