package cart

import (
	"context"

	"github.com/angelmondragon/cartcache-backend/internal/popularity"
)

// Store is the durable source of truth for carts. Load returns ErrCartNotFound
// when the user has no header.
type Store interface {
	Load(ctx context.Context, userID string) (*Cart, error)
	Save(ctx context.Context, cart *Cart) error
	Delete(ctx context.Context, userID string) error
}

// SnapshotCache holds derived, re-buildable cart snapshots. Get returns
// ErrCacheMiss when nothing usable is cached.
type SnapshotCache interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	Set(ctx context.Context, cart *Cart) error
	Delete(ctx context.Context, userID string) error
}

// PopularityTracker receives best-effort quantity deltas per product.
type PopularityTracker interface {
	Apply(ctx context.Context, productID int64, delta int64) error
	Top(ctx context.Context, k int) ([]popularity.ProductCount, error)
}
