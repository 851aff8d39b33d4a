package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/cartcache-backend/internal/popularity"
	pkgerrors "github.com/angelmondragon/cartcache-backend/pkg/errors"
	"github.com/angelmondragon/cartcache-backend/pkg/logger"
	"github.com/angelmondragon/cartcache-backend/pkg/metrics"
	"github.com/angelmondragon/cartcache-backend/pkg/redis"
)

// ErrItemNotFound marks an update that targeted a product missing from the cart.
var ErrItemNotFound = errors.New("cart item not found")

// Operation names used for logs and metrics.
const (
	OpGetCart        = "get_cart"
	OpAddItem        = "add_item"
	OpRemoveItem     = "remove_item"
	OpUpdateQuantity = "update_quantity"
	OpClearCart      = "clear_cart"
	OpTopProducts    = "get_top_products"
)

// Service exposes the cache-aside cart operations.
type Service interface {
	GetCart(ctx context.Context, userID string) (*Cart, error)
	AddItem(ctx context.Context, userID string, input ItemInput) (*Cart, error)
	RemoveItem(ctx context.Context, userID string, productID int64) (*Cart, error)
	UpdateQuantity(ctx context.Context, userID string, productID int64, quantity int) (*Cart, error)
	ClearCart(ctx context.Context, userID string) error
	GetTopProducts(ctx context.Context, k int) ([]popularity.ProductCount, error)
}

// ServiceParams wires the service collaborators. Locker, Metrics and Logger are optional.
type ServiceParams struct {
	Store      Store
	Cache      SnapshotCache
	Popularity PopularityTracker
	Locker     UserLocker
	Metrics    *metrics.CartMetrics
	Logger     *logger.Logger
}

type service struct {
	store      Store
	cache      SnapshotCache
	popularity PopularityTracker
	locker     UserLocker
	serialized bool
	metrics    *metrics.CartMetrics
	logg       *logger.Logger
	reads      singleflight.Group
}

// NewService builds a cart service backed by the provided stack.
func NewService(params ServiceParams) (Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if params.Cache == nil {
		return nil, fmt.Errorf("cart cache required")
	}
	if params.Popularity == nil {
		return nil, fmt.Errorf("popularity tracker required")
	}
	svc := &service{
		store:      params.Store,
		cache:      params.Cache,
		popularity: params.Popularity,
		locker:     params.Locker,
		metrics:    params.Metrics,
		logg:       params.Logger,
	}
	if svc.locker == nil {
		svc.locker = NoopLocker{}
	}
	_, noop := svc.locker.(NoopLocker)
	svc.serialized = !noop
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	return svc, nil
}

func (s *service) GetCart(ctx context.Context, userID string) (*Cart, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	ctx = s.scope(ctx, userID, OpGetCart)
	defer s.observe(OpGetCart, time.Now())

	return s.load(ctx, userID)
}

func (s *service) AddItem(ctx context.Context, userID string, input ItemInput) (*Cart, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	ctx = s.scope(ctx, userID, OpAddItem)
	defer s.observe(OpAddItem, time.Now())

	item := input.toItem()
	return s.mutate(ctx, userID, OpAddItem, func(c *Cart) (change, error) {
		previous, existed := c.AddItem(item)
		before := 0
		if existed {
			before = previous.Quantity
		}
		if existed && previous.Name == item.Name && previous.Price.Equal(item.Price) && previous.Quantity == item.Quantity {
			return change{}, nil
		}
		return change{changed: true, productID: item.ProductID, delta: popularity.Delta(before, item.Quantity)}, nil
	})
}

func (s *service) RemoveItem(ctx context.Context, userID string, productID int64) (*Cart, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	ctx = s.scope(ctx, userID, OpRemoveItem)
	defer s.observe(OpRemoveItem, time.Now())

	return s.mutate(ctx, userID, OpRemoveItem, func(c *Cart) (change, error) {
		removed, ok := c.RemoveItem(productID)
		if !ok {
			return change{}, nil
		}
		return change{changed: true, productID: productID, delta: popularity.Delta(removed.Quantity, 0)}, nil
	})
}

func (s *service) UpdateQuantity(ctx context.Context, userID string, productID int64, quantity int) (*Cart, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	ctx = s.scope(ctx, userID, OpUpdateQuantity)
	defer s.observe(OpUpdateQuantity, time.Now())

	return s.mutate(ctx, userID, OpUpdateQuantity, func(c *Cart) (change, error) {
		previous, ok := c.Find(productID)
		if !ok {
			return change{}, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrItemNotFound, "product not in cart").
				WithDetails(map[string]any{"product_id": productID})
		}
		if previous.Quantity == quantity {
			return change{}, nil
		}
		c.UpdateQuantity(productID, quantity)
		return change{changed: true, productID: productID, delta: popularity.Delta(previous.Quantity, quantity)}, nil
	})
}

func (s *service) ClearCart(ctx context.Context, userID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	ctx = s.scope(ctx, userID, OpClearCart)
	defer s.observe(OpClearCart, time.Now())

	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.Delete(ctx, userID); err != nil {
		s.storeFailed(ctx, err)
		return err
	}
	s.reads.Forget(userID)
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.metrics.IncCacheWriteFailure("delete")
		s.logg.WarnErr(ctx, "cart.cache_delete_failed", err)
	}
	s.logg.Info(ctx, "cart.cleared")
	return nil
}

func (s *service) GetTopProducts(ctx context.Context, k int) ([]popularity.ProductCount, error) {
	ctx = s.logg.WithOperation(ctx, OpTopProducts)
	defer s.observe(OpTopProducts, time.Now())

	top, err := s.popularity.Top(ctx, k)
	if err != nil {
		s.logg.WarnErr(ctx, "cart.top_products_failed", err)
		return nil, err
	}
	return top, nil
}

type change struct {
	changed   bool
	productID int64
	delta     int64
}

// mutate runs the shared write path: load, apply in memory, persist, write
// the snapshot through to the cache and finally emit the popularity delta.
// Only the store write can fail the operation.
func (s *service) mutate(ctx context.Context, userID, op string, apply func(*Cart) (change, error)) (*Cart, error) {
	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.loadForWrite(ctx, userID)
	if err != nil {
		return nil, err
	}
	ch, err := apply(current)
	if err != nil {
		return nil, err
	}
	if !ch.changed {
		return current, nil
	}

	if err := s.store.Save(ctx, current); err != nil {
		s.storeFailed(ctx, err)
		return nil, err
	}
	s.reads.Forget(userID)
	s.writeThrough(ctx, current, "set")
	s.applyPopularity(ctx, ch.productID, ch.delta)

	s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
		"product_id": ch.productID,
		"delta":      ch.delta,
		"items":      len(current.Items),
	}), "cart."+op)
	return current.Clone(), nil
}

// load is the cache-aside read. Concurrent misses for the same user share one
// store round trip; every caller receives its own copy. The shared lookup is
// detached from the caller that started it, so a cancelled caller only
// abandons its own wait.
func (s *service) load(ctx context.Context, userID string) (*Cart, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.reads.DoChan(userID, func() (any, error) {
		return s.readThrough(shared, userID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Cart).Clone(), nil
	}
}

func (s *service) readThrough(ctx context.Context, userID string) (*Cart, error) {
	cached, err := s.cache.Get(ctx, userID)
	switch {
	case err == nil:
		s.metrics.IncLookup(metrics.LookupHit)
		s.logg.Debug(ctx, "cart.cache_hit")
		return cached, nil
	case errors.Is(err, ErrCacheMiss):
		s.metrics.IncLookup(metrics.LookupMiss)
		if errors.Is(err, redis.ErrCorruptValue) {
			s.logg.WarnErr(ctx, "cart.cache_corrupt", err)
		} else {
			s.logg.Debug(ctx, "cart.cache_miss")
		}
	default:
		s.metrics.IncLookup(metrics.LookupError)
		s.logg.WarnErr(ctx, "cart.cache_get_failed", err)
	}

	stored, err := s.store.Load(ctx, userID)
	if errors.Is(err, ErrCartNotFound) {
		return NewCart(userID), nil
	}
	if err != nil {
		s.storeFailed(ctx, err)
		return nil, err
	}
	s.writeThrough(ctx, stored, "repopulate")
	return stored, nil
}

// loadForWrite returns the starting state for a mutation. With serialised
// writers it reads the store directly, since a replica may still hold the
// previous writer's snapshot.
func (s *service) loadForWrite(ctx context.Context, userID string) (*Cart, error) {
	if !s.serialized {
		return s.load(ctx, userID)
	}
	stored, err := s.store.Load(ctx, userID)
	if errors.Is(err, ErrCartNotFound) {
		return NewCart(userID), nil
	}
	if err != nil {
		s.storeFailed(ctx, err)
		return nil, err
	}
	return stored, nil
}

func (s *service) lock(ctx context.Context, userID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, userID)
	if err == nil {
		return unlock, nil
	}
	if pkgerrors.HasCode(err, pkgerrors.CodeCacheUnavailable) {
		s.logg.WarnErr(ctx, "cart.lock_unavailable", err)
		return func() {}, nil
	}
	return nil, err
}

func (s *service) writeThrough(ctx context.Context, c *Cart, op string) {
	if err := s.cache.Set(ctx, c); err != nil {
		s.metrics.IncCacheWriteFailure(op)
		s.logg.WarnErr(ctx, "cart.cache_write_failed", err)
	}
}

func (s *service) applyPopularity(ctx context.Context, productID, delta int64) {
	if err := s.popularity.Apply(ctx, productID, delta); err != nil {
		s.metrics.IncPopularityFailure()
		s.logg.WarnErr(s.logg.WithField(ctx, "product_id", productID), "cart.popularity_update_failed", err)
	}
}

func (s *service) storeFailed(ctx context.Context, err error) {
	s.logg.Error(s.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "cart.store_failed", err)
}

func (s *service) scope(ctx context.Context, userID, op string) context.Context {
	return s.logg.WithOperation(s.logg.WithUserID(ctx, userID), op)
}

func (s *service) observe(op string, start time.Time) {
	s.metrics.ObserveDuration(op, time.Since(start))
}
