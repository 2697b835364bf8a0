package turn

import (
	"strings"
	"unicode"

	"github.com/voicebridge/voicebridge/internal/protocol"
	"github.com/voicebridge/voicebridge/internal/session"
)

// Result classifies the outcome of observing one transcript event.
type Result string

const (
	// ResultPending means the event only updated the stored partial.
	ResultPending Result = "pending"
	// ResultDetected means the event committed a speakable turn.
	ResultDetected Result = "detected"
	// ResultFiltered means the event committed an utterance with no
	// speakable content, which is consumed but not forwarded.
	ResultFiltered Result = "filtered"
)

// Detector finalizes utterances from a stream of partial transcripts. A turn
// is committed when two consecutive events for a user carry the same stripped
// text and the second one is flagged end-of-speech. The last-seen partial is
// stored on the user's session so detection state survives handoffs between
// pipeline stages.
type Detector struct {
	registry *session.Registry
	fillers  map[string]struct{}
}

func NewDetector(registry *session.Registry, fillerPhrases []string) *Detector {
	fillers := make(map[string]struct{}, len(fillerPhrases))
	for _, p := range fillerPhrases {
		p = normalizeUtterance(p)
		if p == "" {
			continue
		}
		fillers[p] = struct{}{}
	}
	return &Detector{registry: registry, fillers: fillers}
}

// Observe feeds one transcript event. A Turn is returned only for
// ResultDetected.
func (d *Detector) Observe(evt protocol.TranscriptEvent) (protocol.Turn, Result) {
	text := strings.TrimSpace(evt.Prompt)
	last := d.registry.Pending(evt.UID)

	if text == last && evt.EOS {
		// Consume the pending text so an identical re-delivery of the same
		// transcript cannot re-trigger generation.
		d.registry.SetPending(evt.UID, "")
		if d.isNoOp(text) {
			return protocol.Turn{}, ResultFiltered
		}
		return protocol.Turn{
			UID:      evt.UID,
			Text:     text,
			Language: evt.Language,
		}, ResultDetected
	}

	d.registry.SetPending(evt.UID, text)
	return protocol.Turn{}, ResultPending
}

// isNoOp reports whether the committed text has no speakable content: empty
// after normalization, or a recognized filler the transcriber emits around
// silence ("Stop.", "Thank you.").
func (d *Detector) isNoOp(text string) bool {
	normalized := normalizeUtterance(text)
	if normalized == "" {
		return true
	}
	_, filler := d.fillers[normalized]
	return filler
}

// normalizeUtterance lowercases and strips punctuation and surrounding space
// so "Stop." and "stop" compare equal.
func normalizeUtterance(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
