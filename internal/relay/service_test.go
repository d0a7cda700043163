package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/ariefcatur/go-storefront-orders/internal/notify"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx/redistest"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct{ msgs []kafkago.Message }

func (c *capture) Publish(key, value []byte, headers ...kafkago.Header) bool {
	c.msgs = append(c.msgs, kafkago.Message{Key: key, Value: value, Headers: headers})
	return true
}

type sender struct {
	texts []string
	err   error
}

func (s *sender) Send(_ context.Context, text string) error {
	if s.err != nil {
		return s.err
	}
	s.texts = append(s.texts, text)
	return nil
}

func published(t *testing.T, event notify.Event, d notify.Details) kafkago.Message {
	t.Helper()
	c := &capture{}
	notify.NewKafka(c, "storefront-api", nil).Notify(context.Background(), event, d)
	require.Len(t, c.msgs, 1)
	return c.msgs[0]
}

func TestDeliversOncePerEvent(t *testing.T) {
	out := &sender{}
	svc := &Service{Sender: out, Dedup: redisx.NewDeduper(redistest.New(), "notifier")}
	m := published(t, notify.EventOrderPaid, notify.Details{OrderID: "ORD-1", PaymentID: "pay_1"})

	require.NoError(t, svc.HandleNotification(context.Background(), m))
	require.NoError(t, svc.HandleNotification(context.Background(), m))

	require.Len(t, out.texts, 1)
	assert.Contains(t, out.texts[0], "pay\\_1")
}

func TestFailedDeliveryIsRetried(t *testing.T) {
	out := &sender{err: errors.New("telegram 502")}
	svc := &Service{Sender: out, Dedup: redisx.NewDeduper(redistest.New(), "notifier")}
	m := published(t, notify.EventAbandonedCarts, notify.Details{OrderIDs: []string{"ORD-1"}})

	require.Error(t, svc.HandleNotification(context.Background(), m))

	out.err = nil
	require.NoError(t, svc.HandleNotification(context.Background(), m))
	assert.Len(t, out.texts, 1)
}

func TestDropsUndecodableMessage(t *testing.T) {
	out := &sender{}
	svc := &Service{Sender: out}
	require.NoError(t, svc.HandleNotification(context.Background(), kafkago.Message{Value: []byte("nope")}))
	assert.Empty(t, out.texts)
}

func TestDedupStoreFailureIsRetried(t *testing.T) {
	rdb := redistest.New()
	rdb.Err = errors.New("redis down")
	svc := &Service{Sender: &sender{}, Dedup: redisx.NewDeduper(rdb, "notifier")}
	m := published(t, notify.EventOrderCreated, notify.Details{OrderID: "ORD-1"})
	assert.Error(t, svc.HandleNotification(context.Background(), m))
}
