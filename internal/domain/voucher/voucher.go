// Package voucher implements the storefront promotion engine: voucher
// definitions, per-voucher eligibility validation, multi-voucher selection
// composition, and payable amount calculation.
//
// All functions in this package are pure. State-changing redemption lives in
// the redemption package, behind the Repository/Store contracts defined here.
package voucher

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Category partitions vouchers into mutually exclusive selection slots.
// An order may carry at most one voucher of each category.
type Category string

const (
	// CategoryDiscount vouchers reduce the product subtotal.
	CategoryDiscount Category = "discount"
	// CategoryShipping vouchers reduce the shipping cost.
	CategoryShipping Category = "shipping"
)

// Known reports whether c is one of the defined categories.
func (c Category) Known() bool {
	return c == CategoryDiscount || c == CategoryShipping
}

// Sentinel errors for the fixed validation reason precedence (§ Check) and
// the selection/catalog contracts. Validation failures are returned as data
// on a Result; these sentinels are the single source of truth for reasons.
var (
	ErrVoucherUnavailable = errors.New("voucher unavailable")
	ErrNotYetActive       = errors.New("voucher not yet active")
	ErrExpired            = errors.New("voucher expired")
	ErrMinOrderNotMet     = errors.New("minimum order value not met")
	ErrUsageLimitExceeded = errors.New("voucher usage limit exceeded")
	ErrUserLimitExceeded  = errors.New("per-user redemption limit exceeded")

	ErrEmptySelection   = errors.New("selection requires at least one voucher")
	ErrCategoryConflict = errors.New("at most one voucher per category")

	// ErrNotFound is returned by repositories when a voucher id is unknown.
	ErrNotFound = errors.New("voucher not found")
	// ErrCatalogUnavailable marks infrastructure failures on catalog reads.
	// Callers must surface it instead of masking it as an empty catalog.
	ErrCatalogUnavailable = errors.New("voucher catalog unavailable")
)

// Voucher is an immutable promotional definition. UsageCount is the only
// field that changes after creation, and only the redemption ledger may
// change it.
type Voucher struct {
	ID            string
	Title         string
	Description   string
	MinOrderValue decimal.Decimal
	// UsageLimit caps total redemptions across all users. Zero means unlimited.
	UsageLimit int
	UsageCount int
	// MaxPerUser caps redemptions by a single user. Zero means unlimited.
	MaxPerUser int
	ValidFrom  *time.Time
	ValidUntil *time.Time
	Active     bool
	Benefit    Benefit
}

// Category returns the selection slot this voucher occupies, derived from
// its benefit.
func (v *Voucher) Category() Category {
	return v.Benefit.Category()
}

// OrderContext is the ephemeral order input a selection is validated against.
// OrderID is empty at preview time and required at commit time.
type OrderContext struct {
	Subtotal     decimal.Decimal
	ShippingCost decimal.Decimal
	UserID       string
	OrderID      string
}

// Redemption is one entry of a voucher's append-only audit trail.
type Redemption struct {
	ID             string
	VoucherID      string
	UserID         string
	OrderID        string
	DiscountAmount decimal.Decimal
	RedeemedAt     time.Time
}

// Filter narrows catalog listings.
type Filter struct {
	// OrderValue, when set, keeps only vouchers whose MinOrderValue the
	// given order subtotal already satisfies.
	OrderValue *decimal.Decimal
	// Category, when set, keeps only vouchers of that category.
	Category *Category
}

// Repository provides read access to the voucher catalog and redemption
// history, plus the transaction entry point used by the redemption ledger.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Voucher, error)
	List(ctx context.Context, f Filter) ([]Voucher, error)
	UserRedemptionCount(ctx context.Context, voucherID, userID string) (int, error)
	History(ctx context.Context, userID string, page, limit int) ([]Redemption, error)

	// InTx runs fn inside a single transaction. If fn returns an error the
	// transaction rolls back and no mutation performed through the Store is
	// kept. This is the only path through which voucher state may change.
	InTx(ctx context.Context, fn func(Store) error) error
}

// Store is the transaction-scoped mutation surface handed to InTx callbacks.
type Store interface {
	// GetForUpdate reads a voucher's current persisted state, locked for the
	// duration of the transaction.
	GetForUpdate(ctx context.Context, id string) (*Voucher, error)
	UserRedemptionCount(ctx context.Context, voucherID, userID string) (int, error)
	// FindRedemption returns the prior redemption of a voucher on an order,
	// or ErrNotFound. It backs the order-keyed idempotency of commits.
	FindRedemption(ctx context.Context, voucherID, orderID string) (*Redemption, error)
	// IncrementUsage bumps usage_count by one, guarded by the usage limit.
	// It reports false when the limit left no remaining slot.
	IncrementUsage(ctx context.Context, id string) (bool, error)
	InsertRedemption(ctx context.Context, r *Redemption) error
}
