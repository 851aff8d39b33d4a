package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cartcache-backend/pkg/db"
	"github.com/angelmondragon/cartcache-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cartcache-backend/pkg/errors"
)

const (
	userUniqueConstraint = "idx_cart_records_user_id"
	headerSavepoint      = "cart_header"
)

// ErrCartNotFound is returned by Load and by lookups when no header exists for the user.
var ErrCartNotFound = errors.New("cart not found")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Repository is the durable store adapter backed by gorm. Header and items
// live in cart_records and cart_items.
type Repository struct {
	db *gorm.DB
	tx txRunner
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(conn *gorm.DB, tx txRunner) *Repository {
	if tx == nil {
		tx = db.NewFromGorm(conn)
	}
	return &Repository{db: conn, tx: tx}
}

// Load fetches the header and items for userID. Items come back in insertion order.
func (r *Repository) Load(ctx context.Context, userID string) (*Cart, error) {
	record, err := findRecord(r.db.WithContext(ctx), userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCartNotFound
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeStoreUnavailable, err, "load cart")
	}
	return toCart(record), nil
}

// Save reconciles the stored items for cart.UserID against cart.Items in one
// transaction: matching products are updated in place, new ones inserted and
// stale ones deleted. The header is created when missing.
func (r *Repository) Save(ctx context.Context, cart *Cart) error {
	if cart == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart is required")
	}
	if err := validateUserID(cart.UserID); err != nil {
		return err
	}
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return reconcile(tx.WithContext(ctx), cart)
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeStoreUnavailable, err, "save cart")
	}
	return nil
}

// Delete removes the header and all of its items. Missing carts are a no-op.
func (r *Repository) Delete(ctx context.Context, userID string) error {
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		tx = tx.WithContext(ctx)
		var record models.CartRecord
		if err := tx.Where("user_id = ?", userID).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Where("cart_id = ?", record.ID).Delete(&models.CartItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&record).Error
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStoreUnavailable, err, "delete cart")
	}
	return nil
}

// Exists reports whether a header is stored for userID.
func (r *Repository) Exists(ctx context.Context, userID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.CartRecord{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeStoreUnavailable, err, "lookup cart")
	}
	return count > 0, nil
}

func findRecord(tx *gorm.DB, userID string) (*models.CartRecord, error) {
	var record models.CartRecord
	err := tx.
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, product_id ASC")
		}).
		Where("user_id = ?", userID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func ensureRecord(tx *gorm.DB, userID string) (*models.CartRecord, error) {
	record, err := findRecord(tx, userID)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// a concurrent writer may create the header first; the savepoint keeps
	// the surrounding transaction usable after a unique violation
	if err := tx.SavePoint(headerSavepoint).Error; err != nil {
		return nil, err
	}
	created := &models.CartRecord{UserID: userID}
	if err := tx.Omit("Items").Create(created).Error; err != nil {
		if !db.IsUniqueViolation(err, userUniqueConstraint) {
			return nil, err
		}
		if err := tx.RollbackTo(headerSavepoint).Error; err != nil {
			return nil, err
		}
		return findRecord(tx, userID)
	}
	return created, nil
}

func reconcile(tx *gorm.DB, cart *Cart) error {
	record, err := ensureRecord(tx, cart.UserID)
	if err != nil {
		return err
	}

	stored := make(map[int64]models.CartItem, len(record.Items))
	for _, row := range record.Items {
		stored[row.ProductID] = row
	}

	incoming := make(map[int64]struct{}, len(cart.Items))
	for _, item := range cart.Items {
		if item.Quantity <= 0 {
			continue
		}
		incoming[item.ProductID] = struct{}{}

		row, ok := stored[item.ProductID]
		if !ok {
			newRow := models.CartItem{
				CartID:    record.ID,
				ProductID: item.ProductID,
				Name:      item.Name,
				Price:     item.Price,
				Quantity:  item.Quantity,
			}
			if err := tx.Create(&newRow).Error; err != nil {
				return err
			}
			continue
		}
		if row.Name == item.Name && row.Price.Equal(item.Price) && row.Quantity == item.Quantity {
			continue
		}
		if err := tx.Model(&row).Updates(map[string]any{
			"name":     item.Name,
			"price":    item.Price,
			"quantity": item.Quantity,
		}).Error; err != nil {
			return err
		}
	}

	var stale []uuid.UUID
	for productID, row := range stored {
		if _, keep := incoming[productID]; !keep {
			stale = append(stale, row.ID)
		}
	}
	if len(stale) > 0 {
		if err := tx.Where("id IN ?", stale).Delete(&models.CartItem{}).Error; err != nil {
			return err
		}
	}

	// a bare model keeps gorm from upserting the preloaded Items back
	return tx.Model(&models.CartRecord{}).
		Where("id = ?", record.ID).
		Update("updated_at", time.Now().UTC()).Error
}

func toCart(record *models.CartRecord) *Cart {
	cart := NewCart(record.UserID)
	for _, row := range record.Items {
		cart.Items = append(cart.Items, Item{
			ProductID: row.ProductID,
			Name:      row.Name,
			Price:     row.Price,
			Quantity:  row.Quantity,
		})
	}
	return cart
}
