package notify

import (
	"context"
	"encoding/json"

	"github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	kafkago "github.com/segmentio/kafka-go"
)

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header) bool
}

// Kafka publishes every event as an envelope; cmd/notifier delivers them.
type Kafka struct {
	pub      Publisher
	producer string
	logg     *logger.Logger
}

func NewKafka(pub Publisher, producer string, logg *logger.Logger) *Kafka {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Kafka{pub: pub, producer: producer, logg: logg}
}

func (k *Kafka) Notify(ctx context.Context, event Event, details Details) {
	key := details.OrderID
	if key == "" && details.Order != nil {
		key = details.Order.OrderID
	}
	env, err := kafka.NewEnvelope(string(event), k.producer, key, details)
	if err != nil {
		k.logg.Error(ctx, "encode notification", err)
		return
	}
	value, err := json.Marshal(env)
	if err != nil {
		k.logg.Error(ctx, "encode envelope", err)
		return
	}
	k.pub.Publish(kafka.PartitionKey(key), value, kafkago.Header{Key: "event_type", Value: []byte(event)})
}

// DecodeEvent is the consumer-side inverse of Kafka.Notify.
func DecodeEvent(value []byte) (Event, Details, error) {
	env, err := kafka.DecodeEnvelope(value)
	if err != nil {
		return "", Details{}, err
	}
	d, err := kafka.UnwrapPayload[Details](env.Payload)
	if err != nil {
		return "", Details{}, err
	}
	return Event(env.EventType), d, nil
}
