package smtp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/shineum/smtp-intake/internal/metrics"
)

const readBufferSize = 4096

// serveConn pumps bytes between conn and a fresh Session until the client
// quits, the connection fails, or ctx is cancelled.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	metrics.ConnectionsTotal.Inc()
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	sess := NewSession(s.config.Session, conn.RemoteAddr())
	log := sess.Logger()
	log.Debug("connection accepted")

	// Unblock a pending Read on shutdown. Message handlers keep running on a
	// context that is not cancelled so an accepted message is not lost.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()
	handlerCtx := context.WithoutCancel(ctx)

	w := bufio.NewWriter(conn)
	if err := s.writeReplies(conn, w, sess.Greeting()); err != nil {
		log.Debug("failed to write greeting", "error", err)
		return
	}

	buf := make([]byte, readBufferSize)
	for {
		if s.config.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
				log.Error("failed to set connection deadline", "error", err)
				return
			}
		}
		if ctx.Err() != nil {
			_ = s.writeReplies(conn, w, replyShuttingDown)
			return
		}

		n, err := conn.Read(buf)
		if n > 0 {
			replies := sess.Feed(handlerCtx, buf[:n])
			if werr := s.writeReplies(conn, w, replies...); werr != nil {
				metrics.TransportErrorsTotal.Inc()
				log.Warn("failed to write to client", "error", werr)
				return
			}
			if sess.Closed() {
				log.Debug("client quit")
				return
			}
		}
		if err == nil {
			continue
		}

		var netErr net.Error
		switch {
		case ctx.Err() != nil:
			_ = s.writeReplies(conn, w, replyShuttingDown)
		case errors.Is(err, io.EOF):
			log.Debug("client closed connection", "state", sess.State().String())
		case errors.As(err, &netErr) && netErr.Timeout():
			log.Info("closing idle connection", "timeout", s.config.ReadTimeout)
			_ = s.writeReplies(conn, w, replyIdleTimeout)
		default:
			metrics.TransportErrorsTotal.Inc()
			log.Warn("connection read error", "error", err)
		}
		return
	}
}

// writeReplies writes replies in order and flushes once.
func (s *Server) writeReplies(conn net.Conn, w *bufio.Writer, replies ...Reply) error {
	if len(replies) == 0 {
		return nil
	}
	if s.config.ReadTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
			return err
		}
	}
	for _, r := range replies {
		if _, err := w.WriteString(r.String()); err != nil {
			return err
		}
	}
	return w.Flush()
}
