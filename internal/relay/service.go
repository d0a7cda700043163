// Package relay delivers notification events from Kafka to Telegram.
package relay

import (
	"context"
	"fmt"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/ariefcatur/go-storefront-orders/internal/notify"
	kafkago "github.com/segmentio/kafka-go"
)

type Sender interface {
	Send(ctx context.Context, text string) error
}

type Deduper interface {
	First(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type Service struct {
	Sender Sender
	Dedup  Deduper
	Logger *logger.Logger
}

// HandleNotification is installed as the consumer handler. Returning an error
// leaves the offset uncommitted so the message is redelivered.
func (s *Service) HandleNotification(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// poison message, nothing a retry can fix
		s.log().Error(ctx, "drop undecodable notification", err)
		return nil
	}
	ctx = s.log().WithFields(ctx, map[string]any{
		"event_id":   env.EventID,
		"event_type": env.EventType,
	})

	if s.Dedup != nil {
		first, err := s.Dedup.First(ctx, env.EventID)
		if err != nil {
			return fmt.Errorf("dedup %s: %w", env.EventID, err)
		}
		if !first {
			s.log().Debug(ctx, "duplicate notification skipped")
			return nil
		}
	}

	details, err := kafkax.UnwrapPayload[notify.Details](env.Payload)
	if err != nil {
		s.log().Error(ctx, "drop notification with bad payload", err)
		return nil
	}
	if err := s.Sender.Send(ctx, notify.Render(notify.Event(env.EventType), details)); err != nil {
		if s.Dedup != nil {
			if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
				s.log().Error(ctx, "forget dedup key", ferr)
			}
		}
		return fmt.Errorf("deliver %s: %w", env.EventType, err)
	}
	s.log().Info(ctx, "notification delivered")
	return nil
}

func (s *Service) log() *logger.Logger {
	if s.Logger == nil {
		return logger.Nop()
	}
	return s.Logger
}
