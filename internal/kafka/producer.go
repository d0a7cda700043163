package kafka

import (
	"context"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages and writes them from one goroutine so publishers
// never block on the broker.
type Producer struct {
	w       messageWriter
	logg    *logger.Logger
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewProducer(brokers []string, topic string, buf int, logg *logger.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}, buf, logg)
}

func newProducer(w messageWriter, buf int, logg *logger.Logger) *Producer {
	if logg == nil {
		logg = logger.Nop()
	}
	if buf <= 0 {
		buf = 256
	}
	return &Producer{
		w:       w,
		logg:    logg,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the write loop until ctx is done, then flushes what is buffered.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

func (p *Producer) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			if err := p.w.Close(); err != nil {
				p.logg.Error(context.Background(), "close kafka writer", err)
			}
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.logg.Error(p.logg.WithField(context.Background(), "key", string(m.Key)), "kafka publish failed", err)
	}
}

// Publish enqueues a message. It reports false when the buffer is full and
// the message was dropped.
func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) bool {
	select {
	case p.inbox <- kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers}:
		return true
	default:
		p.logg.Warn(p.logg.WithField(context.Background(), "key", string(key)), "kafka buffer full, event dropped")
		return false
	}
}

// WaitClosed blocks until the write loop has flushed and exited.
func (p *Producer) WaitClosed() { <-p.closeCh }
