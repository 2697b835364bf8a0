package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/internal/protocol"
	"github.com/voicebridge/voicebridge/internal/reliability"
)

const (
	wsReadLimit    = 1 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleTranscriptWS ingests transcript events. Each text frame is one JSON
// TranscriptEvent; malformed frames get an error frame back and the
// connection stays up.
func (s *Server) handleTranscriptWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !reliability.IsExpectedCloseCode(err) {
				s.log.Debug().Err(err).Msg("transcript ws closed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		evt, err := protocol.ParseTranscriptEvent(data)
		if err != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			_ = conn.WriteJSON(errorResponse{Error: err.Error(), Code: "invalid_transcript"})
			continue
		}
		s.buffer.Offer(evt)
	}
}

// handleAudioWS streams finalized AudioJobs for one user, oldest first, in
// message id order.
func (s *Server) handleAudioWS(w http.ResponseWriter, r *http.Request) {
	uid := strings.TrimSpace(r.URL.Query().Get("uid"))
	if uid == "" {
		respondError(w, http.StatusBadRequest, "missing_uid", "query parameter uid is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go discardReads(ctx, cancel, conn)

	for {
		next := s.fanout.Wait(uid)
		select {
		case <-ctx.Done():
			s.fanout.Forget(uid, next)
			return
		case job := <-next:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(job); err != nil {
				s.log.Debug().Err(err).Str("uid", uid).Msg("audio ws write failed")
				return
			}
		}
	}
}

// handleMonitorWS streams every monitor record to the client, token-level
// progress included. Intended for dashboards and debugging.
func (s *Server) handleMonitorWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	records, unsubscribe := s.monitor.Subscribe(256)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go discardReads(ctx, cancel, conn)

	for {
		select {
		case <-ctx.Done():
			return
		case record := <-records:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(record); err != nil {
				return
			}
		}
	}
}

// discardReads drains inbound frames on a write-only connection so pings are
// answered and a client close is noticed promptly.
func discardReads(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	conn.SetReadLimit(wsReadLimit)
	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
