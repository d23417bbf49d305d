package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/mondzorgtools/dictaat/internal/auth"
	"github.com/mondzorgtools/dictaat/internal/channel"
	"github.com/mondzorgtools/dictaat/internal/transcribe"
)

// subprotocolPrefix carries the admission token during the WebSocket
// handshake, since browsers cannot set an Authorization header there.
const subprotocolPrefix = "Bearer."

// wsReadLimit bounds a single inbound frame. Generous enough for base64
// audio chunks; the audio buffer itself is bounded separately.
const wsReadLimit = transcribe.MaxAudioBytes + (1 << 20)

// handleWS admits a WebSocket connection. The token travels in a
// "Bearer.<token>" subprotocol and is verified before the upgrade; a bad
// token refuses the handshake outright.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token, proto := bearerSubprotocol(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing Bearer subprotocol")
		return
	}
	claims, err := s.issuer.Verify(token)
	if err != nil {
		status := http.StatusUnauthorized
		detail := "invalid token"
		if errors.Is(err, auth.ErrTokenExpired) {
			detail = "token expired"
		}
		writeError(w, status, detail)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{proto},
	})
	if err != nil {
		s.logger.WarnContext(r.Context(), "websocket accept failed", slog.Any("err", err))
		return
	}
	conn.SetReadLimit(wsReadLimit)

	sess := s.router.NewSession(claims.Scope, claims.Channel)
	s.serveSession(r.Context(), conn, sess)
}

// bearerSubprotocol extracts the token from the offered subprotocols.
func bearerSubprotocol(r *http.Request) (token, proto string) {
	for _, header := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(header, ",") {
			p = strings.TrimSpace(p)
			if strings.HasPrefix(p, subprotocolPrefix) {
				return strings.TrimPrefix(p, subprotocolPrefix), p
			}
		}
	}
	return "", ""
}

// serveSession pumps frames between the connection and the router until
// either side ends. The writer drains the session's delivery queue; the
// read loop feeds the router. A panic in either direction terminates only
// this connection.
func (s *Server) serveSession(ctx context.Context, conn *websocket.Conn, sess *channel.Session) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Writer: the only goroutine touching conn.Write, preserving per-sender
	// order end to end. Closing the session closes the queue and lets it drain.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		for out := range sess.Outbound() {
			if err := s.writeOutbound(ctx, conn, out); err != nil {
				return
			}
		}
	}()

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.ErrorContext(ctx, "session panic",
				slog.String("client_id", sess.ClientID()),
				slog.Any("panic", rec),
			)
		}
		sess.Close(ctx)
		<-writerDone
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageText:
			err = sess.HandleText(ctx, data)
		case websocket.MessageBinary:
			err = sess.HandleBinary(ctx, data)
		}
		if err != nil {
			if errors.Is(err, channel.ErrTooManyViolations) {
				conn.Close(websocket.StatusPolicyViolation, "rate limit exceeded")
			}
			return
		}
	}
}

func (s *Server) writeOutbound(ctx context.Context, conn *websocket.Conn, out channel.Outbound) error {
	if out.Binary != nil {
		return conn.Write(ctx, websocket.MessageBinary, out.Binary)
	}
	if out.Env == nil {
		return nil
	}
	data, err := json.Marshal(out.Env)
	if err != nil {
		s.logger.Error("outbound frame marshal failed", slog.Any("err", err))
		return nil
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
