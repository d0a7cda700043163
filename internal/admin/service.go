package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/ledger"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/sweep"
	"go.uber.org/multierr"
)

const sweepTimeout = 5 * time.Minute

type cacheRebuilder interface {
	Rebuild(ctx context.Context) ([]catalog.Product, error)
}

type sweeper interface {
	Run(ctx context.Context) (sweep.Result, error)
}

// Service backs the admin actions. Each returns a status line for the operator.
type Service struct {
	store  orders.Store
	ledger ledger.Ledger
	cache  cacheRebuilder
	sweep  sweeper
	logg   *logger.Logger
}

func NewService(store orders.Store, l ledger.Ledger, cache cacheRebuilder, sw sweeper, logg *logger.Logger) *Service {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{store: store, ledger: l, cache: cache, sweep: sw, logg: logg}
}

func (s *Service) RefreshCache(ctx context.Context) (string, error) {
	all, err := s.cache.Rebuild(ctx)
	if err != nil {
		s.logg.Error(ctx, "refresh product cache failed", err)
		return "Error refreshing product cache: " + err.Error(), err
	}
	return fmt.Sprintf("Product cache has been successfully refreshed (%d products).", len(all)), nil
}

// SyncOrders appends every Paid pending order to the ledger in one call and
// moves them to the completed partition.
func (s *Service) SyncOrders(ctx context.Context) (string, error) {
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return "Error syncing orders: " + err.Error(), err
	}
	var paid []orders.Order
	for _, o := range pending {
		if o.Status == orders.StatusPaid {
			paid = append(paid, o)
		}
	}
	if len(paid) == 0 {
		return "No new paid orders to sync.", nil
	}

	n, err := s.ledger.AppendCompletedOrders(ctx, paid)
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "orders", len(paid)), "sync paid orders failed", err)
		return "Error syncing orders: " + err.Error(), err
	}
	var errs []error
	for _, o := range paid {
		if err := s.store.Complete(ctx, o.OrderID); err != nil {
			errs = append(errs, fmt.Errorf("complete %s: %w", o.OrderID, err))
		}
	}
	if err := multierr.Combine(errs...); err != nil {
		s.logg.Error(ctx, "move synced orders failed", err)
		return fmt.Sprintf("Synced %d paid orders, but %d could not be archived.", n, len(errs)), err
	}
	return fmt.Sprintf("Successfully synced %d new paid orders.", n), nil
}

// ProcessAbandonedCarts runs the sweep detached from the request so a client
// timeout cannot stop it half-way.
func (s *Service) ProcessAbandonedCarts(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sweepTimeout)
	defer cancel()
	res, err := s.sweep.Run(ctx)
	if err != nil {
		s.logg.Error(ctx, "abandoned cart sweep failed", err)
		if len(res.Abandoned) == 0 && len(res.ReleaseFailed) == 0 {
			return "Error processing abandoned carts: " + err.Error(), err
		}
	}
	return res.Message(), err
}
