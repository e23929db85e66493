package smtp

import (
	"strconv"
	"strings"
)

// Reply codes written by the receiver.
const (
	CodeServiceReady    = 220
	CodeGoodbye         = 221
	CodeAuthSuccess     = 235
	CodeOK              = 250
	CodeStartData       = 354
	CodeShuttingDown    = 421
	CodeUnrecognized    = 500
	CodeSyntaxError     = 501
	CodeBadSequence     = 503
	CodeAuthRequired    = 530
	CodeAuthFailed      = 535
	CodeProcessingError = 550
	CodeExceededStorage = 552
)

// Reply is one server response. A reply with several lines is rendered as
// "code-text" continuation lines followed by a final "code text" line.
type Reply struct {
	Code  int
	Lines []string
}

func newReply(code int, lines ...string) Reply {
	return Reply{Code: code, Lines: lines}
}

// String renders the reply in wire form, each line terminated by CRLF.
func (r Reply) String() string {
	code := strconv.Itoa(r.Code)
	if len(r.Lines) == 0 {
		return code + "\r\n"
	}

	var b strings.Builder
	for i, line := range r.Lines {
		b.WriteString(code)
		if i < len(r.Lines)-1 {
			b.WriteByte('-')
		} else {
			b.WriteByte(' ')
		}
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return b.String()
}

var (
	replyOK           = newReply(CodeOK, "OK")
	replyGoodbye      = newReply(CodeGoodbye, "Bye")
	replyAuthSuccess  = newReply(CodeAuthSuccess, "Authentication successful")
	replyAuthFailed   = newReply(CodeAuthFailed, "Authentication failed")
	replyAuthRequired = newReply(CodeAuthRequired, "Authentication required")
	replySyntaxError  = newReply(CodeSyntaxError, "Syntax error in parameters")
	replyStartData    = newReply(CodeStartData, "Start mail input; end with <CRLF>.<CRLF>")
	replyProcessing   = newReply(CodeProcessingError, "Error processing message")
	replyTooLarge     = newReply(CodeExceededStorage, "Message exceeds fixed maximum message size")
	replyUnrecognized = newReply(CodeUnrecognized, "Command not recognized")
	replyLineTooLong  = newReply(CodeUnrecognized, "Line too long")
	replyBadSequence  = newReply(CodeBadSequence, "Bad sequence of commands")
	replyShuttingDown = newReply(CodeShuttingDown, "Service shutting down")
	replyIdleTimeout  = newReply(CodeShuttingDown, "Idle timeout, closing connection")
)
