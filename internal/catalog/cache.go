package catalog

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/ariefcatur/go-storefront-orders/internal/errors"
	"github.com/ariefcatur/go-storefront-orders/internal/ledger"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
)

const lockRetry = 25 * time.Millisecond

// Cache is a file projection of the ledger. It is never written except by
// Rebuild, and Invalidate drops it after every ledger mutation.
type Cache struct {
	path           string
	lockPath       string
	ledger         ledger.Ledger
	productsTable  string
	inventoryTable string
	logg           *logger.Logger
}

func NewCache(path string, l ledger.Ledger, productsTable, inventoryTable string, logg *logger.Logger) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o775); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Cache{
		path:           path,
		lockPath:       path + ".lock",
		ledger:         l,
		productsTable:  productsTable,
		inventoryTable: inventoryTable,
		logg:           logg,
	}, nil
}

// exclusive and shared open a fresh lock handle per call: flock state is per
// file description, so goroutines in one process exclude each other too.
func (c *Cache) exclusive(ctx context.Context) (func(), error) {
	fl := flock.New(c.lockPath)
	ok, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil || !ok {
		return nil, fmt.Errorf("lock product cache: %w", errOr(ctx, err))
	}
	return func() { _ = fl.Unlock() }, nil
}

func (c *Cache) shared(ctx context.Context) (func(), error) {
	fl := flock.New(c.lockPath)
	ok, err := fl.TryRLockContext(ctx, lockRetry)
	if err != nil || !ok {
		return nil, fmt.Errorf("lock product cache: %w", errOr(ctx, err))
	}
	return func() { _ = fl.Unlock() }, nil
}

// Rebuild replaces the cache with a fresh join of the ledger tables. The
// exclusive lock is held across the read so an Invalidate issued meanwhile
// lands after the write. A failed read or an empty table leaves the existing
// cache untouched.
func (c *Cache) Rebuild(ctx context.Context) ([]Product, error) {
	unlock, err := c.exclusive(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var products, inventory []ledger.Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		products, err = c.ledger.ReadTable(gctx, c.productsTable)
		return err
	})
	g.Go(func() (err error) {
		inventory, err = c.ledger.ReadTable(gctx, c.inventoryTable)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	switch {
	case len(products) == 0:
		return nil, apperrors.New(apperrors.CodeRemoteUnavailable, "products table is empty, cache left unchanged")
	case len(inventory) == 0:
		return nil, apperrors.New(apperrors.CodeRemoteUnavailable, "inventory table is empty, cache left unchanged")
	}
	all := Join(products, inventory)

	if err := c.write(all); err != nil {
		return nil, err
	}
	c.logg.Info(c.logg.WithField(ctx, "products", len(all)), "product cache rebuilt")
	return all, nil
}

func (c *Cache) Invalidate(ctx context.Context) error {
	unlock, err := c.exclusive(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if err := os.Remove(c.path); err != nil && !stdErrors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove product cache: %w", err)
	}
	return nil
}

// Products reads the cache, rebuilding it from the ledger when absent.
func (c *Cache) Products(ctx context.Context) ([]Product, error) {
	all, err := c.read(ctx)
	if err == nil {
		return all, nil
	}
	if !stdErrors.Is(err, fs.ErrNotExist) {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "product cache unreadable, rebuilding")
	}
	return c.Rebuild(ctx)
}

func (c *Cache) Query(ctx context.Context, q Query) (Page, error) {
	all, err := c.Products(ctx)
	if err != nil {
		return Page{}, err
	}
	return Filter(all, q), nil
}

func (c *Cache) Categories(ctx context.Context) ([]string, error) {
	all, err := c.Products(ctx)
	if err != nil {
		return nil, err
	}
	return CategoriesOf(all), nil
}

// Price fills in name and unit price for each cart line from the catalog.
func (c *Cache) Price(ctx context.Context, lines []orders.Item) ([]orders.Item, error) {
	all, err := c.Products(ctx)
	if err != nil {
		return nil, err
	}
	type hit struct {
		product   *Product
		variation Variation
	}
	index := map[string]hit{}
	for i := range all {
		for _, v := range all[i].Variations {
			index[v.VariationID] = hit{product: &all[i], variation: v}
		}
	}
	out := make([]orders.Item, 0, len(lines))
	for _, line := range lines {
		h, ok := index[line.VariationID]
		if !ok || h.product.ID != line.ProductID {
			return nil, apperrors.Newf(apperrors.CodeValidation, "unknown product variation %s", line.VariationID).
				WithDetails(map[string]string{"productId": line.ProductID, "variationId": line.VariationID})
		}
		line.Name = h.product.Name
		if h.variation.ColorName != defaultColorName {
			line.Name += " - " + h.variation.ColorName
		}
		line.UnitPrice = h.product.BasePrice
		out = append(out, line)
	}
	return out, nil
}

func (c *Cache) read(ctx context.Context) ([]Product, error) {
	unlock, err := c.shared(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	b, err := os.ReadFile(c.path)
	if err != nil {
		return nil, err
	}
	var all []Product
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, fmt.Errorf("decode product cache: %w", err)
	}
	return all, nil
}

func (c *Cache) write(all []Product) error {
	b, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode product cache: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".products-*")
	if err != nil {
		return fmt.Errorf("create temp cache: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache: %w", err)
	}
	return os.Rename(tmp.Name(), c.path)
}

func errOr(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return stdErrors.New("lock not acquired")
}
