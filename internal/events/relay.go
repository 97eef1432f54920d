// Package events relays appointment lifecycle events from the outbox table to
// Kafka.
package events

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"trainingcenter/backend/internal/domain"
	"trainingcenter/backend/internal/metrics"
	"trainingcenter/backend/internal/store"
)

const (
	defaultPollEvery = 2 * time.Second
	defaultBatchSize = 50
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type RelayConfig struct {
	Topic     string
	PollEvery time.Duration
	BatchSize int
}

type Relay struct {
	outbox    store.EventOutbox
	writer    MessageWriter
	topic     string
	pollEvery time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Collector
	tracer    trace.Tracer
}

// NewRelay builds a relay. m may be nil.
func NewRelay(outbox store.EventOutbox, writer MessageWriter, cfg RelayConfig, logger *slog.Logger, m *metrics.Collector) *Relay {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = defaultPollEvery
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Topic == "" {
		cfg.Topic = "trainingcenter.appointments"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		outbox:    outbox,
		writer:    writer,
		topic:     cfg.Topic,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		logger:    logger.With(slog.String("component", "events.relay")),
		metrics:   m,
		tracer:    otel.Tracer("trainingcenter/events"),
	}
}

// NewKafkaWriter returns a writer that routes by message key, so every event
// of one appointment lands on the same partition.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// Run publishes batches until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay started", slog.String("topic", r.topic), slog.Duration("poll_every", r.pollEvery))

	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				n, err := r.PublishOnce(ctx)
				if err != nil {
					if ctx.Err() == nil {
						r.logger.Error("outbox publish failed", slog.Any("err", err))
					}
					break
				}
				// A full batch suggests a backlog; drain it before sleeping.
				if n < r.batchSize {
					break
				}
			}
		}
	}
}

// PublishOnce writes one batch of unpublished events and returns its size.
func (r *Relay) PublishOnce(ctx context.Context) (int, error) {
	var published int
	err := r.outbox.ClaimBatch(ctx, r.batchSize, func(ctx context.Context, events []domain.AppointmentEvent) error {
		ctx, span := r.tracer.Start(ctx, "outbox.publish", trace.WithAttributes(
			attribute.String("messaging.destination.name", r.topic),
			attribute.Int("messaging.batch.message_count", len(events)),
		))
		defer span.End()

		msgs := make([]kafka.Message, 0, len(events))
		for _, ev := range events {
			msgs = append(msgs, r.message(ctx, ev))
		}
		if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "write failed")
			return err
		}
		published = len(events)
		return nil
	})
	if err != nil {
		if r.metrics != nil {
			r.metrics.EventsFailed.Inc()
		}
		return 0, err
	}
	if r.metrics != nil && published > 0 {
		r.metrics.EventsPublished.Add(float64(published))
	}
	return published, nil
}

func (r *Relay) message(ctx context.Context, ev domain.AppointmentEvent) kafka.Message {
	headers := &headerCarrier{headers: []kafka.Header{
		{Key: "event_id", Value: []byte(ev.ID.String())},
		{Key: "event_type", Value: []byte(ev.Type)},
	}}
	otel.GetTextMapPropagator().Inject(ctx, headers)

	return kafka.Message{
		Topic:   r.topic,
		Key:     []byte(ev.AppointmentID.String()),
		Value:   ev.Payload,
		Headers: headers.headers,
		Time:    ev.OccurredAt,
	}
}

type headerCarrier struct {
	headers []kafka.Header
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

func (c *headerCarrier) Get(key string) string {
	return HeaderValue(c.headers, key)
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
