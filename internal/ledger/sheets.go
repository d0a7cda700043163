package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/ariefcatur/go-storefront-orders/internal/errors"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/ariefcatur/go-storefront-orders/internal/metrics"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const valueInputOption = "USER_ENTERED"

type cellUpdate struct {
	Range string
	Value int
}

// valuesAPI is the slice of the Sheets values resource the ledger uses.
type valuesAPI interface {
	Get(ctx context.Context, spreadsheetID, rng string) ([][]any, error)
	BatchUpdate(ctx context.Context, spreadsheetID string, updates []cellUpdate) error
	Append(ctx context.Context, spreadsheetID, rng string, rows [][]any) (int64, error)
}

type SheetsParams struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
	InventorySheet  string
	OrdersSheet     string
	// StockColumn overrides the column letter derived from the header.
	StockColumn string
	Locker      Locker
	Logger      *logger.Logger
	Metrics     *metrics.Metrics
}

// Sheets is a Ledger backed by a Google spreadsheet. The API has no
// conditional writes, so every mutation runs under Locker.
type Sheets struct {
	api            valuesAPI
	spreadsheetID  string
	inventorySheet string
	ordersSheet    string
	stockColumn    string
	locker         Locker
	logg           *logger.Logger
	metrics        *metrics.Metrics
}

var _ Ledger = (*Sheets)(nil)

func NewSheets(ctx context.Context, params SheetsParams) (*Sheets, error) {
	if params.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id required")
	}
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	switch {
	case strings.TrimSpace(params.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(params.CredentialsJSON)))
	case strings.TrimSpace(params.CredentialsFile) != "":
		opts = append(opts, option.WithCredentialsFile(params.CredentialsFile))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}
	return newSheets(sheetsValues{svc: svc}, params), nil
}

func newSheets(api valuesAPI, params SheetsParams) *Sheets {
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Locker == nil {
		params.Locker = &LocalLocker{}
	}
	return &Sheets{
		api:            api,
		spreadsheetID:  params.SpreadsheetID,
		inventorySheet: params.InventorySheet,
		ordersSheet:    params.OrdersSheet,
		stockColumn:    strings.ToUpper(strings.TrimSpace(params.StockColumn)),
		locker:         params.Locker,
		logg:           params.Logger,
		metrics:        params.Metrics,
	}
}

type table struct {
	header  []string
	records []Record
}

func (t table) column(name string) int {
	for i, h := range t.header {
		if h == name {
			return i
		}
	}
	return -1
}

func (s *Sheets) fetch(ctx context.Context, name string) (table, error) {
	values, err := s.api.Get(ctx, s.spreadsheetID, quoteSheet(name))
	if err != nil {
		return table{}, err
	}
	if len(values) == 0 {
		return table{}, nil
	}
	header := make([]string, len(values[0]))
	for i, h := range values[0] {
		header[i] = strings.TrimSpace(cell(h))
	}
	return table{header: header, records: recordsFromValues(values)}, nil
}

// FetchTable reads name and pads short rows to the header width. Remote
// failures are logged and produce an empty result.
func (s *Sheets) FetchTable(ctx context.Context, name string) []Record {
	recs, err := s.ReadTable(ctx, name)
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "sheet", name), "fetch sheet failed", err)
		return nil
	}
	return recs
}

func (s *Sheets) ReadTable(ctx context.Context, name string) ([]Record, error) {
	t, err := s.fetch(ctx, name)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "read sheet "+name)
	}
	return t.records, nil
}

func (s *Sheets) FindRow(ctx context.Context, variationID string) (Row, error) {
	for i, rec := range s.FetchTable(ctx, s.inventorySheet) {
		if rec[colVariationID] == variationID {
			return rowFromRecord(rec, i), nil
		}
	}
	return Row{}, apperrors.Newf(apperrors.CodeNotFound, "variation %s not found", variationID)
}

type plannedWrite struct {
	row    Row
	before int
	after  int
}

// WriteReport describes a batch write that failed part-way.
type WriteReport struct {
	Applied    []string `json:"applied,omitempty"`
	Restored   []string `json:"restored,omitempty"`
	Unverified bool     `json:"unverified,omitempty"`
}

func (s *Sheets) Reserve(ctx context.Context, items []Item) error {
	agg, err := aggregate(items)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, err, "invalid reservation")
	}
	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "acquire ledger lock")
	}
	defer unlock()

	t, err := s.fetch(ctx, s.inventorySheet)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "read inventory")
	}
	rows := indexRows(t.records)

	var shortages []Shortage
	plan := make([]plannedWrite, 0, len(agg))
	for _, it := range agg {
		row, ok := rows[it.VariationID]
		if !ok {
			shortages = append(shortages, Shortage{VariationID: it.VariationID, Requested: it.Quantity, Missing: true})
			continue
		}
		if row.Stock < it.Quantity {
			shortages = append(shortages, Shortage{VariationID: it.VariationID, Requested: it.Quantity, Available: row.Stock})
			continue
		}
		plan = append(plan, plannedWrite{row: row, before: row.Stock, after: row.Stock - it.Quantity})
	}
	if len(shortages) > 0 {
		return apperrors.New(apperrors.CodeOutOfStock, "insufficient stock").WithDetails(sortedShortages(shortages))
	}
	return s.apply(ctx, t, plan, "reserve")
}

func (s *Sheets) Release(ctx context.Context, items []Item) ([]string, error) {
	agg, err := aggregate(items)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, err, "invalid release")
	}
	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "acquire ledger lock")
	}
	defer unlock()

	t, err := s.fetch(ctx, s.inventorySheet)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "read inventory")
	}
	rows := indexRows(t.records)

	var missing []string
	plan := make([]plannedWrite, 0, len(agg))
	for _, it := range agg {
		row, ok := rows[it.VariationID]
		if !ok {
			missing = append(missing, it.VariationID)
			continue
		}
		plan = append(plan, plannedWrite{row: row, before: row.Stock, after: row.Stock + it.Quantity})
	}
	if len(plan) == 0 {
		return missing, nil
	}
	return missing, s.apply(ctx, t, plan, "release")
}

func (s *Sheets) apply(ctx context.Context, t table, plan []plannedWrite, op string) error {
	col, err := s.stockColumnFor(t)
	if err != nil {
		return err
	}
	updates := make([]cellUpdate, 0, len(plan))
	for _, p := range plan {
		updates = append(updates, cellUpdate{Range: s.cellRange(col, p.row.RowIndex), Value: p.after})
	}
	if err := s.api.BatchUpdate(ctx, s.spreadsheetID, updates); err != nil {
		s.metrics.IncLedgerWriteFailure(op)
		report := s.compensate(ctx, col, plan)
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"op":         op,
			"applied":    report.Applied,
			"restored":   report.Restored,
			"unverified": report.Unverified,
		})
		s.logg.Error(logCtx, "stock batch update failed", err)
		return apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, op+" stock update failed").WithDetails(report)
	}
	return nil
}

// compensate re-reads the table after a failed batch write and restores every
// row that already carries its new value.
func (s *Sheets) compensate(ctx context.Context, col string, plan []plannedWrite) WriteReport {
	var report WriteReport
	t, err := s.fetch(ctx, s.inventorySheet)
	if err != nil {
		report.Unverified = true
		return report
	}
	current := indexRows(t.records)
	var restores []cellUpdate
	for _, p := range plan {
		row, ok := current[p.row.VariationID]
		if !ok || row.Stock != p.after || p.after == p.before {
			continue
		}
		report.Applied = append(report.Applied, p.row.VariationID)
		restores = append(restores, cellUpdate{Range: s.cellRange(col, row.RowIndex), Value: p.before})
	}
	if len(restores) == 0 {
		return report
	}
	if err := s.api.BatchUpdate(ctx, s.spreadsheetID, restores); err != nil {
		report.Unverified = true
		return report
	}
	report.Restored = append(report.Restored, report.Applied...)
	return report
}

func (s *Sheets) AppendCompletedOrders(ctx context.Context, list []orders.Order) (int, error) {
	if len(list) == 0 {
		return 0, apperrors.New(apperrors.CodeValidation, "no orders to write")
	}
	rows := make([][]any, 0, len(list))
	for _, o := range list {
		rows = append(rows, summaryRow(o))
	}
	n, err := s.api.Append(ctx, s.spreadsheetID, quoteSheet(s.ordersSheet), rows)
	if err != nil {
		s.metrics.IncLedgerWriteFailure("append_orders")
		return 0, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "append orders")
	}
	return int(n), nil
}

func (s *Sheets) stockColumnFor(t table) (string, error) {
	if s.stockColumn != "" {
		return s.stockColumn, nil
	}
	i := t.column(colStock)
	if i < 0 {
		return "", apperrors.New(apperrors.CodeInternal, "inventory sheet has no stock column")
	}
	return columnLetter(i), nil
}

func (s *Sheets) cellRange(col string, row int) string {
	return fmt.Sprintf("%s!%s%d", quoteSheet(s.inventorySheet), col, row)
}

func indexRows(records []Record) map[string]Row {
	out := make(map[string]Row, len(records))
	for i, rec := range records {
		id := rec[colVariationID]
		if id == "" {
			continue
		}
		if _, seen := out[id]; seen {
			continue
		}
		out[id] = rowFromRecord(rec, i)
	}
	return out
}

// columnLetter maps a 0-based index to A1 notation: 0 -> A, 26 -> AA.
func columnLetter(i int) string {
	var b []byte
	for i++; i > 0; i = (i - 1) / 26 {
		b = append([]byte{byte('A' + (i-1)%26)}, b...)
	}
	return string(b)
}

func quoteSheet(name string) string {
	for _, r := range name {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return "'" + strings.ReplaceAll(name, "'", "''") + "'"
		}
	}
	return name
}

// LocalLocker serializes mutations inside one process.
type LocalLocker struct {
	mu sync.Mutex
}

func (l *LocalLocker) Lock(ctx context.Context) (func(), error) {
	l.mu.Lock()
	return l.mu.Unlock, nil
}

type sheetsValues struct {
	svc *sheets.Service
}

func (v sheetsValues) Get(ctx context.Context, spreadsheetID, rng string) ([][]any, error) {
	resp, err := v.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (v sheetsValues) BatchUpdate(ctx context.Context, spreadsheetID string, updates []cellUpdate) error {
	data := make([]*sheets.ValueRange, 0, len(updates))
	for _, u := range updates {
		data = append(data, &sheets.ValueRange{Range: u.Range, Values: [][]any{{u.Value}}})
	}
	req := &sheets.BatchUpdateValuesRequest{ValueInputOption: valueInputOption, Data: data}
	_, err := v.svc.Spreadsheets.Values.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
	return err
}

func (v sheetsValues) Append(ctx context.Context, spreadsheetID, rng string, rows [][]any) (int64, error) {
	resp, err := v.svc.Spreadsheets.Values.
		Append(spreadsheetID, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption(valueInputOption).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return 0, err
	}
	if resp.Updates == nil {
		return int64(len(rows)), nil
	}
	return resp.Updates.UpdatedRows, nil
}
