package smtp

import (
	"context"
	"crypto/tls"
	"net"
	"net/smtp"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-intake/internal/email"
	intaketls "github.com/shineum/smtp-intake/internal/tls"
)

// mockProvider implements provider.Provider for testing.
type mockProvider struct {
	mu      sync.Mutex
	msgs    []*email.Message
	sendErr error
}

func (m *mockProvider) Send(_ context.Context, msg *email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return m.sendErr
}

func (m *mockProvider) Name() string {
	return "mock"
}

func (m *mockProvider) sent() []*email.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*email.Message(nil), m.msgs...)
}

// startServer runs a server on a loopback listener until the test ends.
func startServer(t *testing.T, cfg ServerConfig) (addr string, cancel context.CancelFunc, done <-chan error) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx, ln)
	}()
	t.Cleanup(cancel)

	return ln.Addr().String(), cancel, errCh
}

// dialText connects to addr and reads the greeting.
func dialText(t *testing.T, addr string) *textproto.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	tc := textproto.NewConn(conn)
	t.Cleanup(func() { tc.Close() })

	_, msg, err := tc.ReadResponse(CodeServiceReady)
	require.NoError(t, err)
	assert.Contains(t, msg, "SMTP Server Ready")
	return tc
}

func expect(t *testing.T, tc *textproto.Conn, code int, format string, args ...any) string {
	t.Helper()
	require.NoError(t, tc.PrintfLine(format, args...))
	_, msg, err := tc.ReadResponse(code)
	require.NoError(t, err, "command %q", format)
	return msg
}

func TestServer_MailTransaction(t *testing.T) {
	t.Parallel()

	prov := &mockProvider{}
	addr, _, _ := startServer(t, ServerConfig{
		Session: SessionConfig{
			Hostname: "mail.test.com",
			Handler:  NewDeliveryHandler(prov),
		},
	})

	tc := dialText(t, addr)
	msg := expect(t, tc, CodeOK, "EHLO client.test.com")
	assert.Equal(t, "mail.test.com Hello client.test.com", msg)

	expect(t, tc, CodeOK, "MAIL FROM:<sender@example.com>")
	expect(t, tc, CodeOK, "RCPT TO:<alice@example.com>")
	expect(t, tc, CodeOK, "RCPT TO:<bob@example.com>")
	expect(t, tc, CodeStartData, "DATA")

	require.NoError(t, tc.PrintfLine("From: Sender <sender@example.com>"))
	require.NoError(t, tc.PrintfLine("To: alice@example.com, bob@example.com"))
	require.NoError(t, tc.PrintfLine("Subject: Test Email"))
	require.NoError(t, tc.PrintfLine(""))
	require.NoError(t, tc.PrintfLine("Hello, World!"))
	expect(t, tc, CodeOK, ".")
	expect(t, tc, CodeGoodbye, "QUIT")

	sent := prov.sent()
	require.Len(t, sent, 1)
	got := sent[0]
	assert.Equal(t, "Test Email", got.Subject)
	assert.Equal(t, "Sender", got.From.First().Name)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, got.To.Emails())
	assert.Equal(t, "Hello, World!\r\n", got.Text)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "sender@example.com", got.Envelope.MailFrom)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, got.Envelope.Recipients)
	assert.Equal(t, "127.0.0.1", got.Envelope.RemoteAddr)
	assert.NotZero(t, got.Envelope.RemotePort)
	assert.False(t, got.Envelope.ReceivedAt.IsZero())
}

func TestServer_ProviderFailure(t *testing.T) {
	t.Parallel()

	prov := &mockProvider{sendErr: assert.AnError}
	addr, _, _ := startServer(t, ServerConfig{
		Session: SessionConfig{Handler: NewDeliveryHandler(prov)},
	})

	tc := dialText(t, addr)
	expect(t, tc, CodeOK, "HELO client")
	expect(t, tc, CodeOK, "MAIL FROM:<a@b>")
	expect(t, tc, CodeOK, "RCPT TO:<c@d>")
	expect(t, tc, CodeStartData, "DATA")
	require.NoError(t, tc.PrintfLine("Subject: X"))
	expect(t, tc, CodeProcessingError, ".")

	// The session is usable again after a failed delivery.
	expect(t, tc, CodeOK, "MAIL FROM:<a@b>")
}

func TestServer_NetSMTPClientWithAuth(t *testing.T) {
	t.Parallel()

	prov := &mockProvider{}
	addr, _, _ := startServer(t, ServerConfig{
		Session: SessionConfig{
			AuthRequired:  true,
			Authenticator: NewStaticAuthenticator("user", "secret"),
			Handler:       NewDeliveryHandler(prov),
		},
	})

	c, err := smtp.Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Hello("client.example.com"))
	ok, params := c.Extension("AUTH")
	require.True(t, ok)
	assert.Equal(t, "PLAIN", params)

	assert.Error(t, c.Mail("early@example.com"), "MAIL before AUTH is refused")

	host, _, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	require.NoError(t, c.Auth(smtp.PlainAuth("", "user", "secret", host)))
	require.NoError(t, c.Mail("sender@example.com"))
	require.NoError(t, c.Rcpt("rcpt@example.com"))

	w, err := c.Data()
	require.NoError(t, err)
	_, err = w.Write([]byte("Subject: Via net/smtp\r\nContent-Type: text/html\r\n\r\n<p>Hi &amp; bye</p>\r\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, c.Quit())

	sent := prov.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Via net/smtp", sent[0].Subject)
	assert.Equal(t, "<p>Hi &amp; bye</p>\r\n", sent[0].HTML)
	assert.Equal(t, "Hi & bye", sent[0].Text)
	assert.Equal(t, "user", sent[0].Envelope.User)
}

func TestServer_ShutdownNotifiesIdleSessions(t *testing.T) {
	t.Parallel()

	addr, cancel, done := startServer(t, ServerConfig{ShutdownTimeout: 5 * time.Second})

	tc := dialText(t, addr)
	expect(t, tc, CodeOK, "EHLO x")

	cancel()

	_, msg, err := tc.ReadResponse(CodeShuttingDown)
	require.NoError(t, err)
	assert.Equal(t, "Service shutting down", msg)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}

	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err, "listener should be closed")
}

func TestServer_IdleTimeout(t *testing.T) {
	t.Parallel()

	addr, _, _ := startServer(t, ServerConfig{ReadTimeout: 100 * time.Millisecond})

	tc := dialText(t, addr)
	_, _, err := tc.ReadResponse(CodeShuttingDown)
	require.NoError(t, err)

	_, err = tc.ReadLine()
	assert.Error(t, err, "connection should be closed after the idle reply")
}

func TestServer_ImplicitTLS(t *testing.T) {
	t.Parallel()

	tlsCfg, err := intaketls.LoadOrGenerate("", "", "localhost")
	require.NoError(t, err)

	addr, _, _ := startServer(t, ServerConfig{TLSConfig: tlsCfg})

	conn, err := tls.Dial("tcp", addr, &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // self-signed test certificate
	})
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	tc := textproto.NewConn(conn)
	defer tc.Close()

	_, _, err = tc.ReadResponse(CodeServiceReady)
	require.NoError(t, err)
	expect(t, tc, CodeOK, "EHLO secure")
	expect(t, tc, CodeGoodbye, "QUIT")
}

func TestServer_Addr(t *testing.T) {
	t.Parallel()

	srv := New(ServerConfig{})
	assert.Empty(t, srv.Addr())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, ln.Addr().String(), srv.Addr())

	cancel()
	assert.NoError(t, <-done)
}
