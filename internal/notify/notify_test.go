package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeMarkdownV2(t *testing.T) {
	assert.Equal(t, `ORD\-1\_a\.b\!`, escape("ORD-1_a.b!"))
	assert.Equal(t, `\(x\)`, escape("(x)"))
}

func TestRenderOrderCreated(t *testing.T) {
	o := &orders.Order{
		OrderID:      "ORD-1",
		CustomerInfo: orders.CustomerInfo{Name: "Asha", Phone: "+91 98", Address: "12 Main St."},
		Items:        []orders.Item{{VariationID: "V1", Name: "Lip Tint", Quantity: 2}},
		Total:        decimal.RequireFromString("499"),
	}
	msg := Render(EventOrderCreated, Details{Order: o})
	assert.Contains(t, msg, "*Internal ID:* `ORD\\-1`")
	assert.Contains(t, msg, "*Total:* *₹499\\.00*")
	assert.Contains(t, msg, "• Lip Tint `(V1)` x 2")
	assert.Contains(t, msg, "12 Main St\\.")
}

func TestRenderAbandonedAndCritical(t *testing.T) {
	msg := Render(EventAbandonedCarts, Details{OrderIDs: []string{"ORD-1", "ORD-2"}})
	assert.Contains(t, msg, "\\(2\\)")
	assert.Contains(t, msg, "`ORD\\-2`")

	msg = Render(EventCriticalError, Details{Context: "stock write", Fields: map[string]string{"order_id": "ORD-9"}})
	assert.Contains(t, msg, "*Context:* stock write")
	assert.Contains(t, msg, "> *Order id:* `ORD\\-9`")
}

func TestTelegramNotifyPostsMessage(t *testing.T) {
	var (
		mu   sync.Mutex
		got  map[string]any
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram(srv.URL, "TOKEN", "42", nil)
	tg.Notify(context.Background(), EventOrderPaid, Details{OrderID: "ORD-1", PaymentID: "pay_1"})
	tg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "MarkdownV2", got["parse_mode"])
	assert.Contains(t, got["text"], "pay\\_1")
}

func TestTelegramSendReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewTelegram(srv.URL, "T", "1", nil).Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

type capturePublisher struct {
	keys   []string
	values [][]byte
}

func (p *capturePublisher) Publish(key, value []byte, _ ...kafkago.Header) bool {
	p.keys = append(p.keys, string(key))
	p.values = append(p.values, value)
	return true
}

func TestKafkaNotifierRoundTrip(t *testing.T) {
	pub := &capturePublisher{}
	k := NewKafka(pub, "storefront-api", nil)
	k.Notify(context.Background(), EventOrderPaid, Details{OrderID: "ORD-1", PaymentID: "pay_1"})

	require.Len(t, pub.values, 1)
	assert.Equal(t, "ORD-1", pub.keys[0])
	event, d, err := DecodeEvent(pub.values[0])
	require.NoError(t, err)
	assert.Equal(t, EventOrderPaid, event)
	assert.Equal(t, "pay_1", d.PaymentID)
}

type recorder struct{ events []Event }

func (r *recorder) Notify(_ context.Context, e Event, _ Details) { r.events = append(r.events, e) }

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Multi{a, Noop{}, b}.Notify(context.Background(), EventOrderCreated, Details{})
	assert.Equal(t, []Event{EventOrderCreated}, a.events)
	assert.Equal(t, []Event{EventOrderCreated}, b.events)
}
