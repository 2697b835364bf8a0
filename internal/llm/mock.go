package llm

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/voicebridge/voicebridge/internal/protocol"
)

// ScriptedBackend replays a fixed token script per generation. Used in tests
// and when running the pipeline without a real model behind it.
type ScriptedBackend struct {
	mu         sync.Mutex
	Tokens     []string
	TokenDelay time.Duration
	FailSend   error

	requests [][]protocol.ChatMessage
}

func NewScriptedBackend(tokens ...string) *ScriptedBackend {
	return &ScriptedBackend{Tokens: tokens}
}

func (b *ScriptedBackend) Generate(ctx context.Context, messages []protocol.ChatMessage) (TokenStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailSend != nil {
		return nil, b.FailSend
	}
	copied := make([]protocol.ChatMessage, len(messages))
	copy(copied, messages)
	b.requests = append(b.requests, copied)

	tokens := make([]string, len(b.Tokens))
	copy(tokens, b.Tokens)
	return &scriptedStream{tokens: tokens, delay: b.TokenDelay}, nil
}

// Requests returns every payload the backend has received.
func (b *ScriptedBackend) Requests() [][]protocol.ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]protocol.ChatMessage, len(b.requests))
	copy(out, b.requests)
	return out
}

type scriptedStream struct {
	tokens []string
	delay  time.Duration
	pos    int
	closed bool
}

func (s *scriptedStream) Recv(ctx context.Context) (string, error) {
	if s.closed || s.pos >= len(s.tokens) {
		return "", io.EOF
	}
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.delay):
		}
	} else if ctx.Err() != nil {
		return "", ctx.Err()
	}
	tok := s.tokens[s.pos]
	s.pos++
	return tok, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}
