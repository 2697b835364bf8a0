package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Role tags a conversation history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var ErrInvalidTranscript = errors.New("invalid transcript event")

// TranscriptEvent is one partial (or final) transcript pushed by the
// transcription collaborator. The shape mirrors the upstream queue records:
// {uid, prompt, eos, language}.
type TranscriptEvent struct {
	UID      string `json:"uid"`
	Prompt   string `json:"prompt"`
	EOS      bool   `json:"eos"`
	Language string `json:"language,omitempty"`
}

// Turn is a finalized user utterance ready for generation.
type Turn struct {
	UID      string
	Text     string
	Language string
}

// ChatMessage is one entry of the outbound generation payload. The backend
// accepts a JSON array of these.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MonitorRecord is published after every received token and once at stream
// end. LLMOutput is the cumulative assistant text so far; Latency is seconds
// since the turn was submitted.
type MonitorRecord struct {
	UID       string  `json:"uid"`
	TurnID    string  `json:"turn_id,omitempty"`
	Epoch     uint64  `json:"epoch"`
	LLMOutput string  `json:"llm_output"`
	EOS       bool    `json:"eos"`
	Latency   float64 `json:"latency"`
}

// AudioJob is one unit of finalized text handed to speech synthesis.
// MessageID is strictly increasing per user and never reused, so a synthesis
// consumer can discard jobs older than the newest one it has rendered.
type AudioJob struct {
	UID       string `json:"uid"`
	MessageID uint32 `json:"message_id"`
	Language  string `json:"language,omitempty"`
	Text      string `json:"text"`
}

// ParseTranscriptEvent decodes and validates an inbound transcript record.
// Events without a uid are rejected; an empty prompt is legal (silence).
func ParseTranscriptEvent(raw []byte) (TranscriptEvent, error) {
	var evt TranscriptEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return TranscriptEvent{}, fmt.Errorf("%w: %v", ErrInvalidTranscript, err)
	}
	evt.UID = strings.TrimSpace(evt.UID)
	if evt.UID == "" {
		return TranscriptEvent{}, fmt.Errorf("%w: missing uid", ErrInvalidTranscript)
	}
	evt.Language = strings.TrimSpace(evt.Language)
	return evt, nil
}

// EncodeChatPayload renders the outbound generation request: a JSON array of
// role/content entries.
func EncodeChatPayload(messages []ChatMessage) ([]byte, error) {
	if len(messages) == 0 {
		return nil, errors.New("chat payload requires at least one message")
	}
	for i, m := range messages {
		if strings.TrimSpace(m.Role) == "" {
			return nil, fmt.Errorf("chat payload message %d missing role", i)
		}
	}
	return json.Marshal(messages)
}
