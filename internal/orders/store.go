package orders

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/ariefcatur/go-storefront-orders/internal/errors"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
)

const (
	partitionPending   = "pending"
	partitionCompleted = "completed"
	recordExt          = ".json"
)

// Store persists order records. It carries no business rules: callers own the
// state machine.
type Store interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, orderID string) (*Order, error)
	Update(ctx context.Context, orderID string, mutate func(*Order) error) (*Order, error)
	Transition(ctx context.Context, orderID string, to Status, paymentID string) (*Order, error)
	ListPending(ctx context.Context) ([]Order, error)
	Complete(ctx context.Context, orderID string) error
}

// FileStore keeps one JSON file per order in a pending and a completed
// directory under root.
type FileStore struct {
	root  string
	logg  *logger.Logger
	now   func() time.Time
	locks sync.Map // orderID -> *sync.Mutex
}

var _ Store = (*FileStore)(nil)

func NewFileStore(root string, logg *logger.Logger) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("orders root dir required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	for _, p := range []string{partitionPending, partitionCompleted} {
		if err := os.MkdirAll(filepath.Join(root, p), 0o775); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", p, err)
		}
	}
	return &FileStore{root: root, logg: logg, now: time.Now}, nil
}

func (s *FileStore) path(partition, orderID string) (string, error) {
	name := filepath.Base(strings.TrimSpace(orderID))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", apperrors.New(apperrors.CodeValidation, "order id required")
	}
	return filepath.Join(s.root, partition, name+recordExt), nil
}

func (s *FileStore) lock(orderID string) func() {
	m, _ := s.locks.LoadOrStore(orderID, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Create writes a new pending record. Status, payment id and createdAt are
// always reset; an id already present in either partition is DUPLICATE_KEY.
func (s *FileStore) Create(ctx context.Context, order *Order) error {
	if order == nil {
		return apperrors.New(apperrors.CodeValidation, "order required")
	}
	pendingPath, err := s.path(partitionPending, order.OrderID)
	if err != nil {
		return err
	}
	completedPath, _ := s.path(partitionCompleted, order.OrderID)
	if _, err := os.Stat(completedPath); err == nil {
		return apperrors.Newf(apperrors.CodeDuplicateKey, "order %s already exists", order.OrderID)
	}

	order.Status = StatusPendingPayment
	order.PaymentID = ""
	order.CreatedAt = s.now().UTC()
	order.UpdatedAt = order.CreatedAt

	b, err := json.MarshalIndent(order, "", "  ")
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	f, err := os.OpenFile(pendingPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o664)
	if err != nil {
		if stdErrors.Is(err, fs.ErrExist) {
			return apperrors.Newf(apperrors.CodeDuplicateKey, "order %s already exists", order.OrderID)
		}
		return fmt.Errorf("create order file: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(pendingPath)
		return fmt.Errorf("write order file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(pendingPath)
		return fmt.Errorf("close order file: %w", err)
	}
	return nil
}

// Get returns the record from the pending partition, falling back to completed.
func (s *FileStore) Get(ctx context.Context, orderID string) (*Order, error) {
	for _, partition := range []string{partitionPending, partitionCompleted} {
		p, err := s.path(partition, orderID)
		if err != nil {
			return nil, err
		}
		o, err := readOrder(p)
		if err == nil {
			return o, nil
		}
		if !stdErrors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.Wrap(apperrors.CodeNotFound, err, "order unreadable")
		}
	}
	return nil, apperrors.Newf(apperrors.CodeNotFound, "order %s not found", orderID)
}

// Update runs a read-modify-write on a pending record. Writers to the same id
// inside this process are serialized; other processes still race.
func (s *FileStore) Update(ctx context.Context, orderID string, mutate func(*Order) error) (*Order, error) {
	p, err := s.path(partitionPending, orderID)
	if err != nil {
		return nil, err
	}
	unlock := s.lock(orderID)
	defer unlock()

	o, err := readOrder(p)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeNotFound, err, fmt.Sprintf("pending order %s not found", orderID))
	}
	if err := mutate(o); err != nil {
		return nil, err
	}
	o.UpdatedAt = s.now().UTC()
	if err := writeFileAtomic(p, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Transition sets the status (and payment id when non-empty). It does not
// check the transition graph.
func (s *FileStore) Transition(ctx context.Context, orderID string, to Status, paymentID string) (*Order, error) {
	return s.Update(ctx, orderID, func(o *Order) error {
		o.Status = to
		if paymentID != "" {
			o.PaymentID = paymentID
		}
		return nil
	})
}

// ListPending returns a point-in-time snapshot of pending records, newest first.
func (s *FileStore) ListPending(ctx context.Context) ([]Order, error) {
	dir := filepath.Join(s.root, partitionPending)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read pending dir: %w", err)
	}
	out := make([]Order, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != recordExt {
			continue
		}
		o, err := readOrder(filepath.Join(dir, e.Name()))
		if err != nil {
			logCtx := s.logg.WithField(ctx, "file", e.Name())
			s.logg.Warn(logCtx, "skipping unreadable pending order")
			continue
		}
		out = append(out, *o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Complete moves a record from pending to completed.
func (s *FileStore) Complete(ctx context.Context, orderID string) error {
	src, err := s.path(partitionPending, orderID)
	if err != nil {
		return err
	}
	dst, _ := s.path(partitionCompleted, orderID)

	unlock := s.lock(orderID)
	defer unlock()

	if err := os.Rename(src, dst); err != nil {
		if stdErrors.Is(err, fs.ErrNotExist) {
			return apperrors.Newf(apperrors.CodeNotFound, "pending order %s not found", orderID)
		}
		return fmt.Errorf("move order to completed: %w", err)
	}
	return nil
}

func readOrder(path string) (*Order, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var o Order
	if err := json.Unmarshal(b, &o); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if o.OrderID == "" {
		return nil, fmt.Errorf("decode %s: missing orderId", filepath.Base(path))
	}
	return &o, nil
}

func writeFileAtomic(path string, o *Order) error {
	b, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".order-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace order file: %w", err)
	}
	return nil
}
