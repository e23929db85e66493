package smtp

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/google/uuid"

	"github.com/shineum/smtp-intake/internal/metrics"
)

// State is the phase of an SMTP conversation.
type State int

const (
	StateGreeting State = iota
	StateReady
	StateInTransaction
	StateReceivingData
)

func (s State) String() string {
	switch s {
	case StateGreeting:
		return "greeting"
	case StateReady:
		return "ready"
	case StateInTransaction:
		return "in_transaction"
	case StateReceivingData:
		return "receiving_data"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// CommandPolicy decides how a session answers commands that are unknown or
// not legal in the current state.
type CommandPolicy int

const (
	// IgnoreUnknown sends no reply at all.
	IgnoreUnknown CommandPolicy = iota
	// RejectUnknown replies 500 for unknown verbs and 503 for known verbs
	// sent out of sequence.
	RejectUnknown
)

func (p CommandPolicy) String() string {
	if p == RejectUnknown {
		return "reject"
	}
	return "ignore"
}

// ParseCommandPolicy converts "ignore" or "reject" into a CommandPolicy.
// The empty string selects IgnoreUnknown.
func ParseCommandPolicy(s string) (CommandPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return IgnoreUnknown, nil
	case "reject":
		return RejectUnknown, nil
	default:
		return IgnoreUnknown, fmt.Errorf("unknown command policy %q (want ignore or reject)", s)
	}
}

// maxLineLength caps how many bytes are buffered while waiting for a line
// terminator.
const maxLineLength = 64 * 1024

// ErrMessageTooLarge is reported when a payload exceeds MaxMessageSize.
var ErrMessageTooLarge = errors.New("message exceeds maximum size")

// MessageHandler processes the raw payload of a completed data phase.
type MessageHandler interface {
	HandleMessage(ctx context.Context, raw []byte, info SessionInfo) error
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, raw []byte, info SessionInfo) error

// HandleMessage calls f.
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, raw []byte, info SessionInfo) error {
	return f(ctx, raw, info)
}

// SessionConfig holds the settings shared by every session of a server.
type SessionConfig struct {
	// Hostname is announced in the greeting and EHLO replies.
	Hostname string

	// AuthRequired makes MAIL wait for a successful AUTH PLAIN checked by
	// Authenticator. When false, AUTH succeeds immediately as AnonymousIdentity.
	AuthRequired  bool
	Authenticator Authenticator

	// Handler receives each completed message. A nil Handler accepts everything.
	Handler MessageHandler

	// MaxMessageSize limits the payload in bytes; zero means unlimited.
	MaxMessageSize int64

	UnknownCommands CommandPolicy
}

// SessionInfo describes the session a message arrived on. User is the
// authenticated identity, empty when AUTH was not used.
type SessionInfo struct {
	ID         string
	RemoteAddr string
	RemotePort int
	User       string
	MailFrom   string
	Recipients []string
}

// Session is the protocol state of one connection. It consumes raw bytes
// through Feed and returns the replies to write; it never touches the
// network itself. A Session must only be used by one goroutine.
type Session struct {
	cfg        SessionConfig
	id         string
	remoteAddr string
	remotePort int
	logger     *slog.Logger

	state         State
	user          string
	authenticated bool
	mailFrom      string
	recipients    []string
	payload       bytes.Buffer
	oversized     bool

	// pending holds bytes of an incomplete line between Feed calls.
	pending []byte

	// overflow is set after a partial line longer than maxLineLength was
	// flushed or dropped; the next line completes it.
	overflow bool
	closed   bool
}

// NewSession creates a session in StateGreeting for a peer at remote.
func NewSession(cfg SessionConfig, remote net.Addr) *Session {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	host, port := splitRemote(remote)
	id := uuid.NewString()

	return &Session{
		cfg:        cfg,
		id:         id,
		remoteAddr: host,
		remotePort: port,
		logger:     slog.With("session_id", id, "remote", net.JoinHostPort(host, strconv.Itoa(port))),
		state:      StateGreeting,
	}
}

// ID returns the unique session id.
func (s *Session) ID() string { return s.id }

// State returns the current conversation phase.
func (s *Session) State() State { return s.state }

// Closed reports whether the client sent QUIT.
func (s *Session) Closed() bool { return s.closed }

// Logger returns the session-scoped logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Info returns a snapshot of the session for message handlers.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:         s.id,
		RemoteAddr: s.remoteAddr,
		RemotePort: s.remotePort,
		User:       s.user,
		MailFrom:   s.mailFrom,
		Recipients: slices.Clone(s.recipients),
	}
}

// Greeting returns the 220 reply sent when the connection opens.
func (s *Session) Greeting() Reply {
	return newReply(CodeServiceReady, s.cfg.Hostname+" SMTP Server Ready")
}

// Feed consumes bytes read from the client and returns the replies to send,
// in order. Only complete lines are processed; an incomplete trailing line
// is kept until a later Feed completes it. Input after QUIT is discarded.
func (s *Session) Feed(ctx context.Context, data []byte) []Reply {
	var replies []Reply
	s.pending = append(s.pending, data...)

	consumed := 0
	for !s.closed {
		i := bytes.IndexByte(s.pending[consumed:], '\n')
		if i < 0 {
			break
		}
		line := s.pending[consumed : consumed+i+1]
		consumed += i + 1

		if r, ok := s.processLine(ctx, line); ok {
			replies = append(replies, r)
		}
	}

	if s.closed {
		s.pending = nil
		return replies
	}
	s.pending = append(s.pending[:0], s.pending[consumed:]...)

	if len(s.pending) > maxLineLength {
		if s.state == StateReceivingData {
			s.appendPayload(s.pending)
		} else if !s.overflow {
			replies = append(replies, replyLineTooLong)
		}
		s.pending = s.pending[:0]
		s.overflow = true
	}

	return replies
}

// processLine handles one complete line, including its terminator.
func (s *Session) processLine(ctx context.Context, line []byte) (Reply, bool) {
	if s.overflow {
		s.overflow = false
		if s.state == StateReceivingData {
			s.appendPayload(line)
		}
		return Reply{}, false
	}

	text := string(bytes.TrimSuffix(bytes.TrimSuffix(line, []byte("\n")), []byte("\r")))

	if s.state == StateReceivingData {
		if text == "." {
			return s.endData(ctx), true
		}
		s.appendPayload(line)
		return Reply{}, false
	}

	if strings.TrimSpace(text) == "" {
		return Reply{}, false
	}
	return s.handleCommand(ctx, parseCommand(text))
}

func (s *Session) handleCommand(ctx context.Context, cmd Command) (Reply, bool) {
	label := cmd.Verb
	if !knownVerbs[label] {
		label = "UNKNOWN"
	}
	metrics.CommandsTotal.WithLabelValues(label).Inc()

	switch cmd.Verb {
	case "QUIT":
		s.closed = true
		return replyGoodbye, true
	case "NOOP":
		return replyOK, true
	case "RSET":
		s.resetTransaction()
		if s.state != StateGreeting {
			s.state = StateReady
		}
		return replyOK, true
	case "EHLO", "HELO":
		s.resetTransaction()
		s.state = StateReady
		return s.helloReply(cmd), true
	}

	switch s.state {
	case StateReady:
		switch cmd.Verb {
		case "AUTH":
			return s.handleAuth(ctx, cmd.Arg), true
		case "MAIL":
			return s.handleMail(cmd.Arg), true
		}
	case StateInTransaction:
		switch cmd.Verb {
		case "RCPT":
			return s.handleRcpt(cmd.Arg), true
		case "DATA":
			return s.handleData(), true
		}
	}

	return s.unexpected(cmd)
}

func (s *Session) helloReply(cmd Command) Reply {
	hello := s.cfg.Hostname + " Hello"
	if cmd.Arg != "" {
		hello += " " + cmd.Arg
	}
	if cmd.Verb == "EHLO" && s.cfg.AuthRequired {
		return newReply(CodeOK, hello, "AUTH PLAIN")
	}
	return newReply(CodeOK, hello)
}

func (s *Session) handleAuth(ctx context.Context, arg string) Reply {
	if !s.cfg.AuthRequired {
		s.user = AnonymousIdentity
		s.authenticated = true
		return replyAuthSuccess
	}

	identity, err := s.authenticatePlain(ctx, arg)
	if err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		s.logger.Warn("authentication failed", "error", err)
		return replyAuthFailed
	}

	metrics.AuthAttemptsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	s.logger.Info("client authenticated", "user", identity)
	s.user = identity
	s.authenticated = true
	return replyAuthSuccess
}

// authenticatePlain runs a single-step SASL PLAIN exchange on the AUTH
// argument "PLAIN <base64 payload>".
func (s *Session) authenticatePlain(ctx context.Context, arg string) (string, error) {
	mech, payload, _ := strings.Cut(arg, " ")
	if !strings.EqualFold(mech, sasl.Plain) {
		return "", fmt.Errorf("unsupported mechanism %q", mech)
	}
	if s.cfg.Authenticator == nil {
		return "", ErrAuthFailed
	}

	resp, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", fmt.Errorf("invalid PLAIN payload: %w", err)
	}
	if resp == nil {
		resp = []byte{}
	}

	var identity string
	server := sasl.NewPlainServer(func(_, username, password string) error {
		id, err := s.cfg.Authenticator.Authenticate(ctx, username, password)
		if err != nil {
			return err
		}
		if id == "" {
			id = username
		}
		identity = id
		return nil
	})

	_, done, err := server.Next(resp)
	if err != nil {
		return "", err
	}
	if !done {
		return "", ErrAuthFailed
	}
	return identity, nil
}

func (s *Session) handleMail(arg string) Reply {
	if s.cfg.AuthRequired && !s.authenticated {
		return replyAuthRequired
	}
	from, ok := parsePath(arg, "FROM:")
	if !ok {
		return replySyntaxError
	}
	s.mailFrom = from
	s.recipients = nil
	s.state = StateInTransaction
	return replyOK
}

func (s *Session) handleRcpt(arg string) Reply {
	to, ok := parsePath(arg, "TO:")
	if !ok {
		return replySyntaxError
	}
	s.recipients = append(s.recipients, to)
	return replyOK
}

func (s *Session) handleData() Reply {
	s.payload.Reset()
	s.oversized = false
	s.state = StateReceivingData
	return replyStartData
}

// appendPayload adds a data line to the payload. Once the size limit is
// exceeded the payload is dropped and further lines are discarded until the
// terminator.
func (s *Session) appendPayload(b []byte) {
	if s.oversized {
		return
	}
	if s.cfg.MaxMessageSize > 0 && int64(s.payload.Len()+len(b)) > s.cfg.MaxMessageSize {
		s.oversized = true
		s.payload.Reset()
		s.logger.Warn("discarding message data",
			"limit", s.cfg.MaxMessageSize,
			"error", ErrMessageTooLarge,
		)
		return
	}
	s.payload.Write(b)
}

// endData completes the data phase. The payload stays intact until the
// handler has returned; the transaction is then cleared whatever the outcome.
func (s *Session) endData(ctx context.Context) Reply {
	defer func() {
		s.resetTransaction()
		s.state = StateReady
	}()

	if s.oversized {
		metrics.MessagesTotal.WithLabelValues(metrics.ResultTooLarge).Inc()
		return replyTooLarge
	}

	raw := bytes.Clone(s.payload.Bytes())
	metrics.MessageSizeBytes.Observe(float64(len(raw)))

	if s.cfg.Handler != nil {
		if err := s.cfg.Handler.HandleMessage(ctx, raw, s.Info()); err != nil {
			metrics.MessagesTotal.WithLabelValues(metrics.ResultRejected).Inc()
			s.logger.Error("message handler failed", "error", err)
			return replyProcessing
		}
	}

	metrics.MessagesTotal.WithLabelValues(metrics.ResultAccepted).Inc()
	return replyOK
}

// resetTransaction clears the envelope and payload without changing the
// authenticated identity.
func (s *Session) resetTransaction() {
	s.mailFrom = ""
	s.recipients = nil
	s.payload.Reset()
	s.oversized = false
}

func (s *Session) unexpected(cmd Command) (Reply, bool) {
	if s.cfg.UnknownCommands == IgnoreUnknown {
		s.logger.Debug("ignoring command", "verb", cmd.Verb, "state", s.state.String())
		return Reply{}, false
	}
	if knownVerbs[cmd.Verb] {
		return replyBadSequence, true
	}
	return replyUnrecognized, true
}

func splitRemote(addr net.Addr) (string, int) {
	if addr == nil {
		return "unknown", 0
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
