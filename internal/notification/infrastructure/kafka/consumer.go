package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/scrap-pickup/pkg/idempotency"
	"github.com/dmehra2102/scrap-pickup/pkg/outbox"
	"github.com/dmehra2102/scrap-pickup/pkg/tracing"
)

// Reader is the subset of *kafka.Reader the consumer drives.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Handler interface {
	Handle(ctx context.Context, eventType string, payload []byte) error
}

const (
	defaultMinBackoff = 100 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
)

type Consumer struct {
	log        *slog.Logger
	reader     Reader
	handler    Handler
	idem       *idempotency.Store
	tracer     trace.Tracer
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
}

func NewConsumer(log *slog.Logger, reader Reader, handler Handler, idem *idempotency.Store) *Consumer {
	return &Consumer{
		log:        log,
		reader:     reader,
		handler:    handler,
		idem:       idem,
		tracer:     otel.Tracer("notification-consumer"),
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
}

// WithBackoff bounds the delay between attempts on a failing message.
func (c *Consumer) WithBackoff(lo, hi time.Duration) *Consumer {
	c.minBackoff, c.maxBackoff = lo, hi
	return c
}

// Run fetches until ctx is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		c.process(ctx, msg)
	}
}

// process blocks on msg until it is handled or ctx is done. Commits are offset
// watermarks, so nothing after msg on its partition may be committed first.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
	eventType := tracing.HeaderValue(msg.Headers, outbox.EventTypeHeader)
	log := c.log.With("key", key, "type", eventType)

	var seen bool
	err := c.retry(ctx, log, "idempotency check", func() (err error) {
		seen, err = c.idem.Seen(ctx, key)
		return err
	})
	if err != nil {
		return
	}
	if seen {
		log.Info("duplicate message skipped")
		c.commit(ctx, msg)
		return
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "Consume"+eventType)
	defer span.End()

	err = c.retry(msgCtx, log, "notification handling", func() error {
		err := c.handler.Handle(msgCtx, eventType, msg.Value)
		if err != nil {
			span.RecordError(err)
		}
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		// Left uncommitted; the claim is released so redelivery is not skipped.
		if err := c.idem.Release(context.WithoutCancel(ctx), key); err != nil {
			log.Error("idempotency release failed", "err", err)
		}
		return
	}
	c.commit(ctx, msg)
}

// retry calls fn until it succeeds, doubling the wait between attempts up to
// maxBackoff. It returns ctx.Err() once ctx is done.
func (c *Consumer) retry(ctx context.Context, log *slog.Logger, what string, fn func() error) error {
	wait := c.minBackoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error(what+" failed", "attempt", attempt, "retry_in", wait, "err", err)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		wait = min(wait*2, c.maxBackoff)
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.log.Error("commit failed", "offset", msg.Offset, "err", err)
	}
}
