package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	apperrors "github.com/ariefcatur/go-storefront-orders/internal/errors"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/ariefcatur/go-storefront-orders/internal/metrics"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	inventorySelect = `SELECT variation_id AS "variationId", product_id AS "productId",
		color_name AS "colorName", color_hex AS "colorHex", image_url AS "imageUrl",
		stock::text AS "stock"
		FROM inventory ORDER BY position`
	productsSelect = `SELECT id AS "id", name AS "name", base_price::text AS "basePrice",
		description AS "description", category AS "category", tags AS "tags",
		rating::text AS "rating", reviews::text AS "reviews"
		FROM products ORDER BY id`
)

type PostgresParams struct {
	ProductsTable  string
	InventoryTable string
	Logger         *logger.Logger
	Metrics        *metrics.Metrics
}

// Postgres is a transactional Ledger. Reservations are conditional decrements
// inside one transaction, so concurrent carts can never oversell.
type Postgres struct {
	db      *pgxpool.Pool
	queries map[string]string
	logg    *logger.Logger
	metrics *metrics.Metrics
}

var _ Ledger = (*Postgres)(nil)

func NewPostgres(db *pgxpool.Pool, params PostgresParams) *Postgres {
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.ProductsTable == "" {
		params.ProductsTable = "products"
	}
	if params.InventoryTable == "" {
		params.InventoryTable = "inventory"
	}
	return &Postgres{
		db: db,
		queries: map[string]string{
			params.ProductsTable:  productsSelect,
			params.InventoryTable: inventorySelect,
		},
		logg:    params.Logger,
		metrics: params.Metrics,
	}
}

func (p *Postgres) FetchTable(ctx context.Context, name string) []Record {
	recs, err := p.ReadTable(ctx, name)
	if err != nil {
		p.logg.Error(p.logg.WithField(ctx, "table", name), "fetch table failed", err)
		return nil
	}
	return recs
}

func (p *Postgres) ReadTable(ctx context.Context, name string) ([]Record, error) {
	query, ok := p.queries[name]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeValidation, "unknown ledger table %s", name)
	}
	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "read table "+name)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []Record
	for rows.Next() {
		values := make([]string, len(fields))
		dest := make([]any, len(fields))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "scan "+name)
		}
		rec := make(Record, len(fields))
		for i, f := range fields {
			rec[f.Name] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "read table "+name)
	}
	return out, nil
}

func (p *Postgres) FindRow(ctx context.Context, variationID string) (Row, error) {
	var r Row
	err := p.db.QueryRow(ctx, `
		SELECT variation_id, product_id, color_name, color_hex, image_url, stock, row_index FROM (
			SELECT *, row_number() OVER (ORDER BY position) AS row_index FROM inventory
		) ranked WHERE variation_id = $1`, variationID).
		Scan(&r.VariationID, &r.ProductID, &r.ColorName, &r.ColorHex, &r.ImageURL, &r.Stock, &r.RowIndex)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, apperrors.Newf(apperrors.CodeNotFound, "variation %s not found", variationID)
	}
	if err != nil {
		return Row{}, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "find inventory row")
	}
	r.RowIndex += headerOffset - 1
	return r, nil
}

// Reserve locks rows in variation id order to avoid deadlocks between carts
// that share variations.
func (p *Postgres) Reserve(ctx context.Context, items []Item) error {
	agg, err := aggregate(items)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, err, "invalid reservation")
	}
	sort.Slice(agg, func(i, j int) bool { return agg[i].VariationID < agg[j].VariationID })

	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "begin reservation")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var shortages []Shortage
	for _, it := range agg {
		ct, err := tx.Exec(ctx, `
			UPDATE inventory SET stock = stock - $2, version = version + 1
			WHERE variation_id = $1 AND stock >= $2`, it.VariationID, it.Quantity)
		if err != nil {
			p.metrics.IncLedgerWriteFailure("reserve")
			return apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "reserve stock")
		}
		if ct.RowsAffected() == 1 {
			continue
		}
		var stock int
		err = tx.QueryRow(ctx, `SELECT stock FROM inventory WHERE variation_id = $1`, it.VariationID).Scan(&stock)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			shortages = append(shortages, Shortage{VariationID: it.VariationID, Requested: it.Quantity, Missing: true})
		case err != nil:
			return apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "read stock")
		default:
			shortages = append(shortages, Shortage{VariationID: it.VariationID, Requested: it.Quantity, Available: stock})
		}
	}
	if len(shortages) > 0 {
		return apperrors.New(apperrors.CodeOutOfStock, "insufficient stock").WithDetails(sortedShortages(shortages))
	}
	if err := tx.Commit(ctx); err != nil {
		p.metrics.IncLedgerWriteFailure("reserve")
		return apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "commit reservation")
	}
	return nil
}

func (p *Postgres) Release(ctx context.Context, items []Item) ([]string, error) {
	agg, err := aggregate(items)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, err, "invalid release")
	}
	sort.Slice(agg, func(i, j int) bool { return agg[i].VariationID < agg[j].VariationID })

	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "begin release")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var missing []string
	for _, it := range agg {
		ct, err := tx.Exec(ctx, `
			UPDATE inventory SET stock = stock + $2, version = version + 1
			WHERE variation_id = $1`, it.VariationID, it.Quantity)
		if err != nil {
			p.metrics.IncLedgerWriteFailure("release")
			return nil, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "release stock")
		}
		if ct.RowsAffected() == 0 {
			missing = append(missing, it.VariationID)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		p.metrics.IncLedgerWriteFailure("release")
		return nil, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "commit release")
	}
	return missing, nil
}

// AppendCompletedOrders is idempotent per order id.
func (p *Postgres) AppendCompletedOrders(ctx context.Context, list []orders.Order) (int, error) {
	if len(list) == 0 {
		return 0, apperrors.New(apperrors.CodeValidation, "no orders to write")
	}
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "begin append")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, o := range list {
		itemsJSON, err := json.Marshal(o.Items)
		if err != nil {
			return 0, apperrors.Wrap(apperrors.CodeInternal, err, "encode order items")
		}
		batch.Queue(`
			INSERT INTO completed_orders
				(order_id, created_at, customer_name, phone, address, items_summary, total, status, payment_id, items)
			VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10::jsonb)
			ON CONFLICT (order_id) DO NOTHING`,
			o.OrderID, o.CreatedAt, o.CustomerInfo.Name, o.CustomerInfo.Phone, o.CustomerInfo.Address,
			itemsSummary(o), o.Total.StringFixed(2), string(o.Status), o.PaymentID, string(itemsJSON))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		p.metrics.IncLedgerWriteFailure("append_orders")
		return 0, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "append orders")
	}
	if err := tx.Commit(ctx); err != nil {
		p.metrics.IncLedgerWriteFailure("append_orders")
		return 0, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "commit append")
	}
	return len(list), nil
}
