package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// Record is one data row of a table keyed by its header.
type Record map[string]string

// Row is one inventory row.
type Row struct {
	VariationID string `json:"variationId"`
	ProductID   string `json:"productId"`
	ColorName   string `json:"colorName"`
	ColorHex    string `json:"colorHex"`
	ImageURL    string `json:"imageUrl"`
	Stock       int    `json:"stock"`
	// RowIndex is the 1-based position in the remote table, header included.
	RowIndex int `json:"rowIndex"`
}

type Item struct {
	VariationID string `json:"variationId"`
	Quantity    int    `json:"quantity"`
}

type Shortage struct {
	VariationID string `json:"variationId"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
	Missing     bool   `json:"missing,omitempty"`
}

// Ledger is the authoritative per-variation stock record.
type Ledger interface {
	// FetchTable never fails: remote errors are logged and yield no records.
	FetchTable(ctx context.Context, name string) []Record
	// ReadTable is FetchTable for callers that must tell an empty table from
	// a failed read. Failures are REMOTE_UNAVAILABLE.
	ReadTable(ctx context.Context, name string) ([]Record, error)
	FindRow(ctx context.Context, variationID string) (Row, error)
	// Reserve decrements every item or none of them. OUT_OF_STOCK errors carry
	// []Shortage details.
	Reserve(ctx context.Context, items []Item) error
	// Release adds quantities back and returns the variation ids it could not find.
	Release(ctx context.Context, items []Item) ([]string, error)
	AppendCompletedOrders(ctx context.Context, list []orders.Order) (int, error)
}

// Locker serializes ledger mutations across processes.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

const (
	colVariationID = "variationId"
	colProductID   = "productId"
	colColorName   = "colorName"
	colColorHex    = "colorHex"
	colImageURL    = "imageUrl"
	colStock       = "stock"

	headerOffset = 2
)

// aggregate merges duplicate variation lines, keeping first-seen order.
func aggregate(items []Item) ([]Item, error) {
	idx := map[string]int{}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.VariationID)
		if id == "" {
			return nil, fmt.Errorf("variation id required")
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("invalid quantity %d for %s", it.Quantity, id)
		}
		if i, ok := idx[id]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[id] = len(out)
		out = append(out, Item{VariationID: id, Quantity: it.Quantity})
	}
	return out, nil
}

func recordsFromValues(values [][]any) []Record {
	if len(values) == 0 {
		return nil
	}
	header := make([]string, len(values[0]))
	for i, h := range values[0] {
		header[i] = strings.TrimSpace(cell(h))
	}
	out := make([]Record, 0, len(values)-1)
	for _, raw := range values[1:] {
		rec := make(Record, len(header))
		for i, key := range header {
			if key == "" {
				continue
			}
			if i < len(raw) {
				rec[key] = cell(raw[i])
			} else {
				rec[key] = ""
			}
		}
		out = append(out, rec)
	}
	return out
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// parseStock is lenient: blanks and junk read as zero.
func parseStock(s string) int {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}

func rowFromRecord(rec Record, index int) Row {
	return Row{
		VariationID: rec[colVariationID],
		ProductID:   rec[colProductID],
		ColorName:   rec[colColorName],
		ColorHex:    rec[colColorHex],
		ImageURL:    rec[colImageURL],
		Stock:       parseStock(rec[colStock]),
		RowIndex:    index + headerOffset,
	}
}

// RowsOf converts inventory records to rows, keeping table positions.
func RowsOf(records []Record) []Row {
	out := make([]Row, 0, len(records))
	for i, rec := range records {
		out = append(out, rowFromRecord(rec, i))
	}
	return out
}

// itemsSummary renders one "name (variationId) x qty" line per item.
func itemsSummary(o orders.Order) string {
	lines := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, fmt.Sprintf("%s (%s) x %d", it.Name, it.VariationID, it.Quantity))
	}
	return strings.Join(lines, "\n")
}

func summaryRow(o orders.Order) []any {
	itemsJSON, _ := json.Marshal(o.Items)
	return []any{
		o.CreatedAt.UTC().Format(time.DateTime),
		o.OrderID,
		o.CustomerInfo.Name,
		o.CustomerInfo.Phone,
		o.CustomerInfo.Address,
		itemsSummary(o),
		o.Total.StringFixed(2),
		string(o.Status),
		o.PaymentID,
		string(itemsJSON),
	}
}

func sortedShortages(s []Shortage) []Shortage {
	sort.Slice(s, func(i, j int) bool { return s[i].VariationID < s[j].VariationID })
	return s
}
