// Package monitor fans generation telemetry out to in-process subscribers and
// an optional Kafka topic.
package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/voicebridge/voicebridge/internal/observability"
	"github.com/voicebridge/voicebridge/internal/protocol"
)

// Config holds Kafka settings; with no brokers the publisher runs in
// log-only mode and still serves in-process subscribers.
type Config struct {
	Brokers []string
	Topic   string
}

type Publisher struct {
	writer  *kafka.Writer
	topic   string
	enabled bool
	metrics *observability.Metrics
	log     zerolog.Logger

	mu   sync.Mutex
	subs map[int]chan protocol.MonitorRecord
	next int
}

func New(cfg Config, metrics *observability.Metrics, log zerolog.Logger) *Publisher {
	p := &Publisher{
		topic:   cfg.Topic,
		metrics: metrics,
		log:     log,
		subs:    make(map[int]chan protocol.MonitorRecord),
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		log.Info().Msg("kafka disabled, monitor records stay in-process")
		return p
	}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
	p.enabled = true
	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("kafka monitor publisher initialized")
	return p
}

// Publish delivers one record to every subscriber and, when enabled, to
// Kafka. Subscriber channels are written without blocking; a slow subscriber
// loses records rather than stalling the generation loop. Kafka failures are
// logged, never propagated.
func (p *Publisher) Publish(ctx context.Context, record protocol.MonitorRecord) {
	p.mu.Lock()
	for _, ch := range p.subs {
		select {
		case ch <- record:
		default:
			p.metrics.MonitorPublishes.WithLabelValues("inproc", "dropped").Inc()
		}
	}
	p.mu.Unlock()
	p.metrics.MonitorPublishes.WithLabelValues("inproc", "ok").Inc()

	if !p.enabled {
		return
	}

	payload, err := json.Marshal(record)
	if err != nil {
		p.metrics.MonitorPublishes.WithLabelValues("kafka", "error").Inc()
		p.log.Error().Err(err).Msg("marshal monitor record")
		return
	}
	msg := kafka.Message{
		Key:   []byte(record.UID),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.MonitorPublishes.WithLabelValues("kafka", "error").Inc()
		p.log.Error().Err(err).Str("topic", p.topic).Msg("kafka write failed")
		return
	}
	p.metrics.MonitorPublishes.WithLabelValues("kafka", "ok").Inc()
}

// Subscribe registers an in-process consumer. The returned cancel func must
// be called to release the channel.
func (p *Publisher) Subscribe(buffer int) (<-chan protocol.MonitorRecord, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan protocol.MonitorRecord, buffer)

	p.mu.Lock()
	id := p.next
	p.next++
	p.subs[id] = ch
	p.mu.Unlock()

	return ch, func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// KafkaEnabled reports whether records are also shipped to a Kafka topic.
func (p *Publisher) KafkaEnabled() bool {
	return p.enabled
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
