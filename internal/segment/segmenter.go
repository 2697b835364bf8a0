// Package segment turns an append-only token stream into speakable sentences.
package segment

import "strings"

// DefaultBoundaries covers ASCII terminal punctuation plus the wide/CJK
// equivalents and the horizontal ellipsis.
const DefaultBoundaries = ".?!。？！；…"

// Segmenter incrementally splits streamed text on sentence-terminal
// punctuation. Completed sentences are emitted as they close; text after the
// last boundary is retained as the remainder. The concatenation of every
// emitted sentence plus the remainder always equals the exact input stream.
//
// Feed never flushes an unterminated remainder on its own; callers decide the
// end-of-stream policy via Flush.
type Segmenter struct {
	boundaries map[rune]struct{}
	remainder  strings.Builder
}

// New creates a segmenter splitting on the runes of boundaries; an empty
// string selects DefaultBoundaries.
func New(boundaries string) *Segmenter {
	if boundaries == "" {
		boundaries = DefaultBoundaries
	}
	set := make(map[rune]struct{}, len(boundaries))
	for _, r := range boundaries {
		set[r] = struct{}{}
	}
	return &Segmenter{boundaries: set}
}

// Feed appends one token and returns the sentences it completed, in order. A
// single token may close several sentences; none are dropped.
func (s *Segmenter) Feed(token string) []string {
	if token == "" {
		return nil
	}

	var sentences []string
	start := 0
	for i, r := range token {
		if _, ok := s.boundaries[r]; !ok {
			continue
		}
		end := i + len(string(r))
		s.remainder.WriteString(token[start:end])
		sentences = append(sentences, s.remainder.String())
		s.remainder.Reset()
		start = end
	}
	if start < len(token) {
		s.remainder.WriteString(token[start:])
	}
	return sentences
}

// Remainder returns the buffered text not yet closed by punctuation.
func (s *Segmenter) Remainder() string {
	return s.remainder.String()
}

// Flush returns the remainder and clears it. Called at stream end so a
// trailing unterminated clause is still spoken rather than silently dropped.
func (s *Segmenter) Flush() string {
	out := s.remainder.String()
	s.remainder.Reset()
	return out
}
