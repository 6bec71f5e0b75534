// Package nats implements the message queue port using NATS JetStream.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"

	cfotel "github.com/Strob0t/CoachForge/internal/adapter/otel"
	"github.com/Strob0t/CoachForge/internal/logger"
	"github.com/Strob0t/CoachForge/internal/port/cache"
	"github.com/Strob0t/CoachForge/internal/port/messagequeue"
)

const (
	streamName      = "COACHFORGE"
	evictionSubject = "cache.evict"
	headerRequestID = "X-Request-ID"

	defaultMaxDeliver = 5
	defaultNakDelay   = 2 * time.Second
	maxNakDelay       = 2 * time.Minute
)

var _ cache.Evictions = (*Queue)(nil)

// Options tunes redelivery of failing messages.
type Options struct {
	Name       string
	MaxDeliver int           // deliveries before a failing message is dead-lettered
	NakDelay   time.Duration // base redelivery delay, doubled per delivery
	Metrics    *cfotel.Metrics
}

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc   *nats.Conn
	js   jetstream.JetStream
	opts Options
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string, opts Options) (*Queue, error) {
	if opts.MaxDeliver <= 0 {
		opts.MaxDeliver = defaultMaxDeliver
	}
	if opts.NakDelay <= 0 {
		opts.NakDelay = defaultNakDelay
	}
	if opts.Name == "" {
		opts.Name = "coachforge"
	}

	nc, err := nats.Connect(url,
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	// Ensure the stream exists with subjects matching our topic patterns.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"onboarding.>", "notifications.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js, opts: opts}, nil
}

// Publish sends a message to the given subject. The request ID and trace
// context of ctx travel as message headers.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a durable consumer for subject. Messages failing
// schema validation or returning messagequeue.ErrPermanent go straight to
// the dead-letter subject; other failures are redelivered with backoff until
// MaxDeliver is reached.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       consumerName(subject),
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    q.opts.MaxDeliver + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handle(ctx, msg, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

func (q *Queue) handle(parent context.Context, msg jetstream.Msg, handler messagequeue.Handler) {
	ctx := parent
	hdr := msg.Headers()
	if hdr != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(http.Header(hdr)))
		if id := hdr.Get(headerRequestID); id != "" {
			ctx = logger.WithRequestID(ctx, id)
		}
	}
	subject := msg.Subject()

	if err := messagequeue.Validate(subject, msg.Data()); err != nil {
		q.deadLetter(ctx, msg, err)
		return
	}

	err := handler(ctx, subject, msg.Data())
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			slog.ErrorContext(ctx, "nats ack failed", "subject", subject, "error", ackErr)
		}
		return
	}

	delivered := deliveries(msg)
	if errors.Is(err, messagequeue.ErrPermanent) || delivered >= uint64(q.opts.MaxDeliver) {
		q.deadLetter(ctx, msg, err)
		return
	}

	delay := backoff(q.opts.NakDelay, delivered)
	slog.WarnContext(ctx, "message handler failed, redelivering",
		"subject", subject, "delivery", delivered, "delay", delay, "error", err)
	if nakErr := msg.NakWithDelay(delay); nakErr != nil {
		slog.ErrorContext(ctx, "nats nak failed", "subject", subject, "error", nakErr)
	}
}

// deadLetter publishes msg to its DLQ subject and terminates it on the stream.
func (q *Queue) deadLetter(ctx context.Context, msg jetstream.Msg, cause error) {
	subject := msg.Subject()
	payload, err := json.Marshal(messagequeue.DeadLetterPayload{
		Subject:    subject,
		Data:       msg.Data(),
		Error:      cause.Error(),
		Deliveries: deliveries(msg),
	})
	if err != nil {
		slog.ErrorContext(ctx, "dlq marshal failed", "subject", subject, "error", err)
		return
	}

	if _, err := q.js.Publish(ctx, subject+messagequeue.DLQSuffix, payload); err != nil {
		slog.ErrorContext(ctx, "dlq publish failed, redelivering", "subject", subject, "error", err)
		_ = msg.NakWithDelay(q.opts.NakDelay)
		return
	}
	if err := msg.Term(); err != nil {
		slog.ErrorContext(ctx, "nats term failed", "subject", subject, "error", err)
	}
	if q.opts.Metrics != nil {
		q.opts.Metrics.DeadLetters.Add(ctx, 1, metric.WithAttributes(attribute.String("subject", subject)))
	}
	slog.ErrorContext(ctx, "message moved to dlq", "subject", subject, "error", cause)
}

// KeyValue returns the JetStream KV bucket, creating it when missing.
func (q *Queue) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := q.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("nats kv %s: %w", bucket, err)
	}
	return kv, nil
}

// PublishEviction broadcasts a deleted cache key on core NATS. Evictions
// are not persisted: a replica that is offline starts with an empty L1.
func (q *Queue) PublishEviction(_ context.Context, key string) error {
	if err := q.nc.Publish(evictionSubject, []byte(key)); err != nil {
		return fmt.Errorf("nats publish eviction: %w", err)
	}
	return nil
}

// OnEviction subscribes every replica to evicted cache keys.
func (q *Queue) OnEviction(fn func(key string)) (func(), error) {
	sub, err := q.nc.Subscribe(evictionSubject, func(m *nats.Msg) {
		fn(string(m.Data))
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe evictions: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Drain gracefully drains all subscriptions before closing.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the connection is currently up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}

func deliveries(msg jetstream.Msg) uint64 {
	md, err := msg.Metadata()
	if err != nil {
		return 1
	}
	return md.NumDelivered
}

// backoff doubles base for every prior delivery, capped at maxNakDelay.
func backoff(base time.Duration, delivered uint64) time.Duration {
	d := base
	for i := uint64(1); i < delivered; i++ {
		d *= 2
		if d >= maxNakDelay {
			return maxNakDelay
		}
	}
	return d
}

// consumerName maps a subject to a valid durable consumer name.
func consumerName(subject string) string {
	r := strings.NewReplacer(".", "_", "*", "any", ">", "all")
	return "coachforge_" + r.Replace(subject)
}
