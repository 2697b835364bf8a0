// Package pipeline coordinates generation streams: one finalized turn in, a
// stream of speakable sentences and telemetry records out, with at most one
// live generation per user.
package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voicebridge/voicebridge/internal/archive"
	"github.com/voicebridge/voicebridge/internal/delivery"
	"github.com/voicebridge/voicebridge/internal/llm"
	"github.com/voicebridge/voicebridge/internal/monitor"
	"github.com/voicebridge/voicebridge/internal/observability"
	"github.com/voicebridge/voicebridge/internal/protocol"
	"github.com/voicebridge/voicebridge/internal/segment"
	"github.com/voicebridge/voicebridge/internal/session"
)

// Generation outcomes.
const (
	outcomeCompleted   = "completed"
	outcomeInterrupted = "interrupted"
	outcomeError       = "error"
)

// Config tunes coordinator behavior.
type Config struct {
	// ResponseDirective is appended to the rendered context before sending,
	// e.g. a response-length cap.
	ResponseDirective string
	// SentenceBoundaries selects the segmenter's punctuation set.
	SentenceBoundaries string
	// MaxActiveTurns bounds concurrently running generation workers across
	// all users.
	MaxActiveTurns int
}

type Coordinator struct {
	cfg      Config
	registry *session.Registry
	backend  llm.Backend
	fanout   *delivery.Fanout
	monitor  *monitor.Publisher
	store    archive.Store
	metrics  *observability.Metrics
	log      zerolog.Logger

	slots chan struct{}
	wg    sync.WaitGroup
}

func New(
	cfg Config,
	registry *session.Registry,
	backend llm.Backend,
	fanout *delivery.Fanout,
	monitorPub *monitor.Publisher,
	store archive.Store,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Coordinator {
	if cfg.MaxActiveTurns <= 0 {
		cfg.MaxActiveTurns = 32
	}
	return &Coordinator{
		cfg:      cfg,
		registry: registry,
		backend:  backend,
		fanout:   fanout,
		monitor:  monitorPub,
		store:    store,
		metrics:  metrics,
		log:      log,
		slots:    make(chan struct{}, cfg.MaxActiveTurns),
	}
}

// Submit starts a generation worker for one finalized turn. The worker
// retires any in-flight generation for the same user before streaming.
func (c *Coordinator) Submit(ctx context.Context, turn protocol.Turn) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case c.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-c.slots }()
		c.runTurn(ctx, turn)
	}()
}

// Wait blocks until every in-flight worker has finished. Used on shutdown.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) runTurn(ctx context.Context, turn protocol.Turn) {
	start := time.Now()
	turnID := uuid.NewString()
	language := strings.TrimSpace(turn.Language)
	if language == "" {
		language = "en"
	}
	log := c.log.With().Str("uid", turn.UID).Str("turn_id", turnID).Logger()

	// Interrupting the previous stream and allocating the next epoch is one
	// atomic step; the retired stream observes its context cancellation at
	// the next receive iteration and stops appending.
	streamCtx, epoch := c.registry.BeginGeneration(ctx, turn.UID)
	defer c.registry.FinishGeneration(turn.UID, epoch)
	log = log.With().Uint64("epoch", epoch).Logger()

	c.registry.AppendHistory(turn.UID, protocol.RoleUser, turn.Text)
	c.saveExchange(ctx, turn.UID, turnID, string(protocol.RoleUser), turn.Text, language)

	prompt := c.registry.RenderHistory(turn.UID, language)
	if c.cfg.ResponseDirective != "" {
		prompt += " " + c.cfg.ResponseDirective
	}
	messages := []protocol.ChatMessage{{Role: string(protocol.RoleUser), Content: prompt}}

	c.metrics.ActiveGenerations.Inc()
	defer c.metrics.ActiveGenerations.Dec()
	c.metrics.KnownSessions.Set(float64(c.registry.Count()))

	stream, err := c.backend.Generate(streamCtx, messages)
	if err != nil {
		c.metrics.BackendErrors.WithLabelValues("connect").Inc()
		c.metrics.GenerationsTotal.WithLabelValues(outcomeError).Inc()
		log.Error().Err(err).Msg("generation backend unavailable")
		c.publish(ctx, protocol.MonitorRecord{
			UID: turn.UID, TurnID: turnID, Epoch: epoch,
			EOS: true, Latency: time.Since(start).Seconds(),
		})
		return
	}
	defer stream.Close()

	seg := segment.New(c.cfg.SentenceBoundaries)
	var accumulated strings.Builder
	firstToken := true
	firstAudio := true
	lastEmit := start
	outcome := outcomeCompleted

recvLoop:
	for {
		// Cooperative cancellation: the interrupt is checked at every
		// receive iteration, never preempted.
		select {
		case <-streamCtx.Done():
			outcome = outcomeInterrupted
			break recvLoop
		default:
		}

		token, err := stream.Recv(streamCtx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
			case streamCtx.Err() != nil:
				outcome = outcomeInterrupted
			default:
				outcome = outcomeError
				c.metrics.BackendErrors.WithLabelValues("receive").Inc()
				log.Error().Err(err).Msg("generation stream failed")
			}
			break recvLoop
		}
		if token == "" {
			continue
		}

		if firstToken {
			firstToken = false
			c.metrics.ObserveFirstTokenLatency(time.Since(start))
		}
		c.metrics.TokensTotal.Inc()
		accumulated.WriteString(token)

		for _, sentence := range seg.Feed(token) {
			if !c.deliver(turn.UID, epoch, language, sentence) {
				continue
			}
			now := time.Now()
			c.metrics.Stages.Observe(observability.StageSegmentEmit,
				float64(now.Sub(lastEmit).Milliseconds()))
			lastEmit = now
			if firstAudio {
				firstAudio = false
				c.metrics.Stages.Observe(observability.StageFirstAudio,
					float64(now.Sub(start).Milliseconds()))
			}
		}

		c.publish(ctx, protocol.MonitorRecord{
			UID:       turn.UID,
			TurnID:    turnID,
			Epoch:     epoch,
			LLMOutput: accumulated.String(),
			Latency:   time.Since(start).Seconds(),
		})
	}

	if outcome == outcomeCompleted {
		// End-of-stream policy: the unterminated tail is spoken, not dropped.
		if tail := seg.Flush(); strings.TrimSpace(tail) != "" {
			c.deliver(turn.UID, epoch, language, tail)
		}
	}

	final := accumulated.String()
	if outcome == outcomeCompleted && c.registry.IsCurrent(turn.UID, epoch) && strings.TrimSpace(final) != "" {
		c.registry.AppendHistory(turn.UID, protocol.RoleAssistant, final)
		c.saveExchange(ctx, turn.UID, turnID, string(protocol.RoleAssistant), final, language)
	}
	if outcome == outcomeInterrupted {
		c.metrics.Stages.ObserveIndicator("generation_interrupted")
	}

	c.metrics.GenerationsTotal.WithLabelValues(outcome).Inc()
	c.metrics.Stages.Observe(observability.StageGeneration,
		float64(time.Since(start).Milliseconds()))

	// The terminal record goes out on every path so downstream consumers are
	// never left waiting on an abandoned stream.
	c.publish(ctx, protocol.MonitorRecord{
		UID:       turn.UID,
		TurnID:    turnID,
		Epoch:     epoch,
		LLMOutput: final,
		EOS:       true,
		Latency:   time.Since(start).Seconds(),
	})

	log.Info().
		Str("outcome", outcome).
		Int("chars", len(final)).
		Dur("took", time.Since(start)).
		Msg("generation finished")
}

// deliver enqueues one sentence unless this stream has been superseded.
// The epoch check runs inside the fanout's critical section, so a retired
// stream can never be granted a message id after its successor started
// enqueueing. Sentences already queued before an interrupt are not retracted.
func (c *Coordinator) deliver(uid string, epoch uint64, language, sentence string) bool {
	_, ok := c.fanout.EnqueueIf(uid, language, sentence, func() bool {
		return c.registry.IsCurrent(uid, epoch)
	})
	if !ok {
		return false
	}
	c.metrics.AudioJobsTotal.Inc()
	return true
}

func (c *Coordinator) publish(ctx context.Context, record protocol.MonitorRecord) {
	if c.monitor == nil {
		return
	}
	c.monitor.Publish(ctx, record)
}

func (c *Coordinator) saveExchange(ctx context.Context, uid, turnID, role, content, language string) {
	if c.store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := c.store.SaveExchange(saveCtx, archive.ExchangeRecord{
		UID:      uid,
		TurnID:   turnID,
		Role:     role,
		Content:  content,
		Language: language,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("uid", uid).Msg("archive write failed")
	}
}
