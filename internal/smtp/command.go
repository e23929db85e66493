package smtp

import "strings"

// Command is one command line split into its verb and argument.
type Command struct {
	// Verb is the upper-cased first word of the line.
	Verb string
	// Arg is the rest of the line with surrounding whitespace removed.
	Arg string
}

// knownVerbs are the verbs the receiver understands in at least one state.
var knownVerbs = map[string]bool{
	"EHLO": true,
	"HELO": true,
	"AUTH": true,
	"MAIL": true,
	"RCPT": true,
	"DATA": true,
	"RSET": true,
	"NOOP": true,
	"QUIT": true,
}

// parseCommand splits a command line into the verb and its argument.
func parseCommand(line string) Command {
	line = strings.TrimLeft(line, " \t")
	verb, arg, _ := strings.Cut(line, " ")
	return Command{
		Verb: strings.ToUpper(verb),
		Arg:  strings.TrimSpace(arg),
	}
}

// parsePath extracts the mailbox from a MAIL or RCPT argument of the form
// prefix<addr>. The prefix ("FROM:" or "TO:") matches case-insensitively and
// may be followed by spaces. The mailbox must be non-empty; anything after
// the closing ">" (ESMTP parameters) is ignored.
func parsePath(arg, prefix string) (string, bool) {
	if len(arg) < len(prefix) || !strings.EqualFold(arg[:len(prefix)], prefix) {
		return "", false
	}
	rest := strings.TrimLeft(arg[len(prefix):], " \t")
	if !strings.HasPrefix(rest, "<") {
		return "", false
	}
	end := strings.IndexByte(rest, '>')
	if end < 2 {
		return "", false
	}
	return rest[1:end], true
}
