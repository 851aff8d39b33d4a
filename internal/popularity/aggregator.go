package popularity

import (
	"context"
	"errors"
	"strconv"

	"github.com/angelmondragon/cartcache-backend/pkg/redis"
)

// DefaultTopK is used when a caller asks for k <= 0.
const DefaultTopK = 10

type counterBackend interface {
	IncrementField(ctx context.Context, key, field string, amount int64) (int64, error)
	TopK(ctx context.Context, key string, k int) ([]redis.FieldCount, error)
}

// ProductCount is one entry of the popularity ranking.
type ProductCount struct {
	ProductID int64 `json:"id"`
	Count     int64 `json:"count"`
}

// Aggregator keeps net in-cart quantity per product in a single hash.
// Counts are approximate; updates are not linearised with cart writes.
type Aggregator struct {
	backend  counterBackend
	key      string
	defaultK int
}

func NewAggregator(backend counterBackend, key string, defaultK int) (*Aggregator, error) {
	if backend == nil {
		return nil, errors.New("popularity backend required")
	}
	if key == "" {
		return nil, errors.New("popularity key required")
	}
	if defaultK <= 0 {
		defaultK = DefaultTopK
	}
	return &Aggregator{backend: backend, key: key, defaultK: defaultK}, nil
}

// Apply adds delta to productID's counter. A zero delta is skipped.
func (a *Aggregator) Apply(ctx context.Context, productID int64, delta int64) error {
	if delta == 0 {
		return nil
	}
	_, err := a.backend.IncrementField(ctx, a.key, strconv.FormatInt(productID, 10), delta)
	return err
}

// Top returns the k most popular products, highest count first. Ties keep
// ascending product id order.
func (a *Aggregator) Top(ctx context.Context, k int) ([]ProductCount, error) {
	if k <= 0 {
		k = a.defaultK
	}
	entries, err := a.backend.TopK(ctx, a.key, 0)
	if err != nil {
		return nil, err
	}
	out := make([]ProductCount, 0, min(k, len(entries)))
	for _, entry := range entries {
		if len(out) == k {
			break
		}
		id, err := strconv.ParseInt(entry.Field, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, ProductCount{ProductID: id, Count: entry.Count})
	}
	return out, nil
}

// Delta is the counter change for a product whose in-cart quantity moved
// from before to after. Absent products have quantity 0.
func Delta(before, after int) int64 {
	if before < 0 {
		before = 0
	}
	if after < 0 {
		after = 0
	}
	return int64(after - before)
}
