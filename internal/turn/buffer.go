package turn

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/voicebridge/voicebridge/internal/observability"
	"github.com/voicebridge/voicebridge/internal/protocol"
)

// Sink receives finalized turns.
type Sink interface {
	Submit(ctx context.Context, turn protocol.Turn)
}

// Buffer pulls transcript events off a channel, collapses backlog down to the
// freshest event, and forwards finalized turns to the sink. Only the most
// recent partial matters for turn detection; stale queued partials are
// discarded rather than replayed.
type Buffer struct {
	detector *Detector
	events   chan protocol.TranscriptEvent
	sink     Sink
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewBuffer(detector *Detector, sink Sink, metrics *observability.Metrics, log zerolog.Logger, queueSize int) *Buffer {
	if queueSize <= 0 {
		queueSize = 128
	}
	return &Buffer{
		detector: detector,
		events:   make(chan protocol.TranscriptEvent, queueSize),
		sink:     sink,
		metrics:  metrics,
		log:      log,
	}
}

// Offer enqueues a transcript event without blocking. When the queue is full
// the oldest event is dropped to make room; the freshest transcript always
// wins.
func (b *Buffer) Offer(evt protocol.TranscriptEvent) {
	for {
		select {
		case b.events <- evt:
			return
		default:
		}
		select {
		case <-b.events:
			b.metrics.TurnsTotal.WithLabelValues("stale_dropped").Inc()
		default:
		}
	}
}

// Run consumes events until ctx is cancelled.
func (b *Buffer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-b.events:
			evt = b.drainToFreshest(evt)
			b.handle(ctx, evt)
		}
	}
}

// drainToFreshest discards queued partials in favor of the most recently
// enqueued one.
func (b *Buffer) drainToFreshest(evt protocol.TranscriptEvent) protocol.TranscriptEvent {
	for {
		select {
		case next := <-b.events:
			b.metrics.TurnsTotal.WithLabelValues("stale_dropped").Inc()
			evt = next
		default:
			return evt
		}
	}
}

func (b *Buffer) handle(ctx context.Context, evt protocol.TranscriptEvent) {
	turn, result := b.detector.Observe(evt)
	if result != ResultDetected {
		if result == ResultFiltered {
			b.metrics.TurnsTotal.WithLabelValues(string(ResultFiltered)).Inc()
		}
		return
	}

	b.metrics.TurnsTotal.WithLabelValues(string(ResultDetected)).Inc()
	b.log.Debug().
		Str("uid", turn.UID).
		Str("language", turn.Language).
		Int("chars", len(turn.Text)).
		Msg("turn finalized")
	b.sink.Submit(ctx, turn)
}
