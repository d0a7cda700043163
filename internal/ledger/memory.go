package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	apperrors "github.com/ariefcatur/go-storefront-orders/internal/errors"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// Memory is an in-process ledger for local development and tests.
type Memory struct {
	mu             sync.Mutex
	inventorySheet string
	tables         map[string][]Record
	completed      []orders.Order
}

var _ Ledger = (*Memory)(nil)

// Seed is the JSON layout accepted by LoadMemory: table name -> records.
type Seed map[string][]Record

func NewMemory(inventorySheet string, seed Seed) *Memory {
	tables := make(map[string][]Record, len(seed))
	for name, recs := range seed {
		tables[name] = cloneRecords(recs)
	}
	return &Memory{inventorySheet: inventorySheet, tables: tables}
}

func LoadMemory(path, inventorySheet string) (*Memory, error) {
	if path == "" {
		return NewMemory(inventorySheet, nil), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(b, &seed); err != nil {
		return nil, fmt.Errorf("decode ledger seed: %w", err)
	}
	return NewMemory(inventorySheet, seed), nil
}

func (m *Memory) FetchTable(_ context.Context, name string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRecords(m.tables[name])
}

func (m *Memory) ReadTable(ctx context.Context, name string) ([]Record, error) {
	return m.FetchTable(ctx, name), nil
}

func (m *Memory) FindRow(_ context.Context, variationID string) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range m.tables[m.inventorySheet] {
		if rec[colVariationID] == variationID {
			return rowFromRecord(rec, i), nil
		}
	}
	return Row{}, apperrors.Newf(apperrors.CodeNotFound, "variation %s not found", variationID)
}

func (m *Memory) Reserve(_ context.Context, items []Item) error {
	agg, err := aggregate(items)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, err, "invalid reservation")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	inv := m.tables[m.inventorySheet]
	pos := m.positions()
	var shortages []Shortage
	for _, it := range agg {
		i, ok := pos[it.VariationID]
		if !ok {
			shortages = append(shortages, Shortage{VariationID: it.VariationID, Requested: it.Quantity, Missing: true})
			continue
		}
		if stock := parseStock(inv[i][colStock]); stock < it.Quantity {
			shortages = append(shortages, Shortage{VariationID: it.VariationID, Requested: it.Quantity, Available: stock})
		}
	}
	if len(shortages) > 0 {
		return apperrors.New(apperrors.CodeOutOfStock, "insufficient stock").WithDetails(sortedShortages(shortages))
	}
	for _, it := range agg {
		i := pos[it.VariationID]
		inv[i][colStock] = strconv.Itoa(parseStock(inv[i][colStock]) - it.Quantity)
	}
	return nil
}

func (m *Memory) Release(_ context.Context, items []Item) ([]string, error) {
	agg, err := aggregate(items)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, err, "invalid release")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	inv := m.tables[m.inventorySheet]
	pos := m.positions()
	var missing []string
	for _, it := range agg {
		i, ok := pos[it.VariationID]
		if !ok {
			missing = append(missing, it.VariationID)
			continue
		}
		inv[i][colStock] = strconv.Itoa(parseStock(inv[i][colStock]) + it.Quantity)
	}
	return missing, nil
}

func (m *Memory) AppendCompletedOrders(_ context.Context, list []orders.Order) (int, error) {
	if len(list) == 0 {
		return 0, apperrors.New(apperrors.CodeValidation, "no orders to write")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, list...)
	return len(list), nil
}

// Completed returns the orders appended so far.
func (m *Memory) Completed() []orders.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]orders.Order(nil), m.completed...)
}

func (m *Memory) positions() map[string]int {
	pos := map[string]int{}
	for i, rec := range m.tables[m.inventorySheet] {
		id := rec[colVariationID]
		if _, seen := pos[id]; id != "" && !seen {
			pos[id] = i
		}
	}
	return pos
}

func cloneRecords(in []Record) []Record {
	out := make([]Record, 0, len(in))
	for _, rec := range in {
		c := make(Record, len(rec))
		for k, v := range rec {
			c[k] = v
		}
		out = append(out, c)
	}
	return out
}
