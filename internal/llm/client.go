// Package llm talks to the generation backend over a duplex websocket: one
// JSON array of chat messages out, a stream of text fragments back, closed by
// a reserved sentinel marker or by the peer dropping the connection.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voicebridge/voicebridge/internal/protocol"
	"github.com/voicebridge/voicebridge/internal/reliability"
)

const (
	dialBackoffBase = 150 * time.Millisecond
	dialBackoffCap  = 1200 * time.Millisecond
)

// TokenStream is the receive side of one in-flight generation. Recv returns
// io.EOF when the backend signals completion.
type TokenStream interface {
	Recv(ctx context.Context) (string, error)
	Close() error
}

// Backend opens generation streams.
type Backend interface {
	Generate(ctx context.Context, messages []protocol.ChatMessage) (TokenStream, error)
}

// Config holds websocket client settings.
type Config struct {
	URL           string
	SentinelToken string
	DialTimeout   time.Duration
	DialRetries   int
	WriteTimeout  time.Duration
}

// Client dials the backend once per generation. Mid-stream reconnects are
// deliberately not attempted: a dropped connection ends that stream and the
// user speaks again.
type Client struct {
	cfg    Config
	dialer websocket.Dialer
	log    zerolog.Logger
}

func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	normalized, err := normalizeBackendURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	cfg.URL = normalized
	if strings.TrimSpace(cfg.SentinelToken) == "" {
		return nil, errors.New("llm sentinel token is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 4 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	return &Client{
		cfg: cfg,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		log: log,
	}, nil
}

func normalizeBackendURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("llm backend url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse LLM_BACKEND_URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported llm backend scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// Generate dials the backend, sends the chat payload and returns the live
// token stream. Only the initial dial is retried; everything after the
// payload is written rides a single connection.
func (c *Client) Generate(ctx context.Context, messages []protocol.ChatMessage) (TokenStream, error) {
	payload, err := protocol.EncodeChatPayload(messages)
	if err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("llm backend send: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	return newWSStream(conn, c.cfg.SentinelToken), nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.DialRetries; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, dialBackoffBase, dialBackoffCap)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if err == nil {
			return conn, nil
		}
		if resp != nil {
			lastErr = fmt.Errorf("llm backend dial failed (%s): %w", resp.Status, err)
		} else {
			lastErr = fmt.Errorf("llm backend dial failed: %w", err)
		}
		if !reliability.IsRetryableDialError(err) {
			break
		}
		c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("llm backend dial retry")
	}
	return nil, lastErr
}

// wsStream pumps inbound frames through a channel so Recv can honor context
// cancellation while a read is outstanding.
type wsStream struct {
	conn     *websocket.Conn
	sentinel string
	msgs     chan string
	errs     chan error
	drained  bool
}

func newWSStream(conn *websocket.Conn, sentinel string) *wsStream {
	s := &wsStream{
		conn:     conn,
		sentinel: sentinel,
		msgs:     make(chan string, 64),
		errs:     make(chan error, 1),
	}
	go func() {
		defer close(s.msgs)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				s.errs <- err
				return
			}
			s.msgs <- string(data)
		}
	}()
	return s
}

func (s *wsStream) Recv(ctx context.Context) (string, error) {
	if s.drained {
		return "", io.EOF
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-s.errs:
		return "", s.mapCloseErr(err)
	case data, ok := <-s.msgs:
		if !ok {
			select {
			case err := <-s.errs:
				return "", s.mapCloseErr(err)
			default:
			}
			return "", io.EOF
		}
		if data == s.sentinel {
			s.drained = true
			return "", io.EOF
		}
		if tail, found := strings.CutSuffix(data, s.sentinel); found {
			// Final fragment and marker arrived fused; surface the text now
			// and end the stream on the next Recv.
			s.drained = true
			if tail == "" {
				return "", io.EOF
			}
			return tail, nil
		}
		return data, nil
	}
}

func (s *wsStream) mapCloseErr(err error) error {
	if err == nil || reliability.IsExpectedCloseCode(err) {
		return io.EOF
	}
	return fmt.Errorf("llm backend receive: %w", err)
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
