package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/segmentio/kafka-go"
)

// Handler returns nil only when the message was processed and its offset may
// be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// maxAttempts bounds in-place retries of one message. Offsets are committed
// per message, so a later commit on the same partition moves past a message
// that exhausted its attempts; it is seen again only after a restart or
// rebalance re-reads uncommitted offsets.
const maxAttempts = 3

type Consumer struct {
	r       messageReader
	workers int
	logg    *logger.Logger
	backoff time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, logg *logger.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, logg)
}

func newConsumer(r messageReader, workers int, logg *logger.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Consumer{r: r, workers: workers, logg: logg, backoff: 200 * time.Millisecond}
}

// Start dispatches messages to a worker pool until ctx is done. Failed
// messages are logged and left uncommitted.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, c.workers*4)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				c.handle(ctx, h, m)
			}
		}()
	}
	defer wg.Wait()
	defer close(jobs)

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"topic":     m.Topic,
		"partition": m.Partition,
		"offset":    m.Offset,
	})
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			break
		}
		c.logg.Error(c.logg.WithField(logCtx, "attempt", attempt), "event handler failed", err)
		if attempt == maxAttempts {
			c.logg.Warn(logCtx, "event skipped after retries")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		c.logg.Error(logCtx, "commit offset failed", err)
	}
}
