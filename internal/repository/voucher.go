package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quangvu/storefront-voucher-engine/internal/domain/voucher"
)

const (
	voucherColumns = `id, title, description, category, discount_kind,
		discount_value, discount_cap, shipping_discount_value, min_order_value,
		usage_limit, usage_count, max_per_user, valid_from, valid_until, active`

	getVoucherSQL = `SELECT ` + voucherColumns + ` FROM vouchers WHERE id = $1`

	getVoucherForUpdateSQL = getVoucherSQL + ` FOR UPDATE`

	listVouchersSQL = `SELECT ` + voucherColumns + ` FROM vouchers
		WHERE active = TRUE
		AND ($1::numeric IS NULL OR min_order_value <= $1)
		AND ($2::text IS NULL OR category = $2)
		ORDER BY min_order_value, id`

	userRedemptionCountSQL = `SELECT COUNT(*) FROM voucher_redemptions
		WHERE voucher_id = $1 AND user_id = $2`

	findRedemptionSQL = `SELECT id, voucher_id, user_id, order_id, discount_amount, redeemed_at
		FROM voucher_redemptions WHERE voucher_id = $1 AND order_id = $2`

	historySQL = `SELECT id, voucher_id, user_id, order_id, discount_amount, redeemed_at
		FROM voucher_redemptions WHERE user_id = $1
		ORDER BY redeemed_at DESC, id LIMIT $2 OFFSET $3`

	// The predicate re-checks the usage limit at write time: zero affected
	// rows means a concurrent redeemer consumed the last slot.
	incrementUsageSQL = `UPDATE vouchers SET usage_count = usage_count + 1
		WHERE id = $1 AND (usage_limit = 0 OR usage_count < usage_limit)`

	insertRedemptionSQL = `INSERT INTO voucher_redemptions
		(id, voucher_id, user_id, order_id, discount_amount, redeemed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
)

var _ voucher.Repository = (*VoucherRepository)(nil)

// VoucherRepository implements voucher.Repository backed by PostgreSQL.
type VoucherRepository struct {
	pool *pgxpool.Pool
}

// NewVoucherRepository returns a VoucherRepository that uses the given pool.
func NewVoucherRepository(pool *pgxpool.Pool) *VoucherRepository {
	return &VoucherRepository{pool: pool}
}

// GetByID looks up a voucher by id.
// Returns voucher.ErrNotFound when no such voucher exists.
func (r *VoucherRepository) GetByID(ctx context.Context, id string) (*voucher.Voucher, error) {
	return getVoucher(ctx, r.pool, getVoucherSQL, id)
}

// List returns active vouchers matching the filter, cheapest threshold first.
func (r *VoucherRepository) List(ctx context.Context, f voucher.Filter) ([]voucher.Voucher, error) {
	var orderValue *decimal.Decimal
	if f.OrderValue != nil {
		orderValue = f.OrderValue
	}
	var category *string
	if f.Category != nil {
		c := string(*f.Category)
		category = &c
	}

	rows, err := r.pool.Query(ctx, listVouchersSQL, orderValue, category)
	if err != nil {
		return nil, fmt.Errorf("listing vouchers: %w", err)
	}
	vouchers, err := pgx.CollectRows(rows, scanVoucher)
	if err != nil {
		return nil, fmt.Errorf("listing vouchers: %w", err)
	}
	return vouchers, nil
}

// UserRedemptionCount returns how many times the user has redeemed the voucher.
func (r *VoucherRepository) UserRedemptionCount(ctx context.Context, voucherID, userID string) (int, error) {
	return userRedemptionCount(ctx, r.pool, voucherID, userID)
}

// History returns one page of the user's redemption records, newest first.
// page is 1-based.
func (r *VoucherRepository) History(ctx context.Context, userID string, page, limit int) ([]voucher.Redemption, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	rows, err := r.pool.Query(ctx, historySQL, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("loading redemption history for user %q: %w", userID, err)
	}
	records, err := pgx.CollectRows(rows, scanRedemption)
	if err != nil {
		return nil, fmt.Errorf("loading redemption history for user %q: %w", userID, err)
	}
	return records, nil
}

// InTx runs fn inside a single database transaction, rolling back when fn
// returns an error. The error is returned unwrapped so callers can inspect
// it with errors.As.
func (r *VoucherRepository) InTx(ctx context.Context, fn func(voucher.Store) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

var _ voucher.Store = (*txStore)(nil)

// txStore is the transaction-scoped voucher.Store implementation.
type txStore struct {
	tx pgx.Tx
}

// GetForUpdate reads the voucher's current row, locked until the transaction ends.
func (s *txStore) GetForUpdate(ctx context.Context, id string) (*voucher.Voucher, error) {
	return getVoucher(ctx, s.tx, getVoucherForUpdateSQL, id)
}

func (s *txStore) UserRedemptionCount(ctx context.Context, voucherID, userID string) (int, error) {
	return userRedemptionCount(ctx, s.tx, voucherID, userID)
}

// FindRedemption returns the redemption of a voucher on an order, or
// voucher.ErrNotFound.
func (s *txStore) FindRedemption(ctx context.Context, voucherID, orderID string) (*voucher.Redemption, error) {
	rows, err := s.tx.Query(ctx, findRedemptionSQL, voucherID, orderID)
	if err != nil {
		return nil, fmt.Errorf("finding redemption of voucher %q on order %q: %w", voucherID, orderID, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRedemption)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, voucher.ErrNotFound
		}
		return nil, fmt.Errorf("finding redemption of voucher %q on order %q: %w", voucherID, orderID, err)
	}
	return &rec, nil
}

// IncrementUsage takes one usage slot. It reports false when the guarded
// update affected zero rows, meaning the limit is exhausted.
func (s *txStore) IncrementUsage(ctx context.Context, id string) (bool, error) {
	tag, err := s.tx.Exec(ctx, incrementUsageSQL, id)
	if err != nil {
		return false, fmt.Errorf("incrementing usage for voucher %q: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *txStore) InsertRedemption(ctx context.Context, rec *voucher.Redemption) error {
	_, err := s.tx.Exec(ctx, insertRedemptionSQL,
		rec.ID, rec.VoucherID, rec.UserID, rec.OrderID, rec.DiscountAmount, rec.RedeemedAt)
	if err != nil {
		return fmt.Errorf("inserting redemption %q: %w", rec.ID, err)
	}
	return nil
}

func getVoucher(ctx context.Context, q querier, sql, id string) (*voucher.Voucher, error) {
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("finding voucher %q: %w", id, err)
	}
	v, err := pgx.CollectExactlyOneRow(rows, scanVoucher)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, voucher.ErrNotFound
		}
		return nil, fmt.Errorf("finding voucher %q: %w", id, err)
	}
	return &v, nil
}

func userRedemptionCount(ctx context.Context, q querier, voucherID, userID string) (int, error) {
	var count int
	err := q.QueryRow(ctx, userRedemptionCountSQL, voucherID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting redemptions of voucher %q by user %q: %w", voucherID, userID, err)
	}
	return count, nil
}

func scanVoucher(row pgx.CollectableRow) (voucher.Voucher, error) {
	var (
		v                     voucher.Voucher
		category              string
		discountKind          *string
		discountValue         decimal.Decimal
		discountCap           *decimal.Decimal
		shippingDiscountValue decimal.Decimal
		validFrom             *time.Time
		validUntil            *time.Time
	)
	err := row.Scan(
		&v.ID, &v.Title, &v.Description, &category, &discountKind,
		&discountValue, &discountCap, &shippingDiscountValue, &v.MinOrderValue,
		&v.UsageLimit, &v.UsageCount, &v.MaxPerUser, &validFrom, &validUntil, &v.Active,
	)
	if err != nil {
		return voucher.Voucher{}, err
	}
	v.ValidFrom = validFrom
	v.ValidUntil = validUntil
	v.Benefit, err = buildBenefit(category, discountKind, discountValue, discountCap, shippingDiscountValue)
	if err != nil {
		return voucher.Voucher{}, fmt.Errorf("voucher %q: %w", v.ID, err)
	}
	return v, nil
}

// buildBenefit maps the flat voucher row onto the benefit sum type, so the
// rest of the engine never sees product-discount fields on a shipping voucher.
func buildBenefit(category string, kind *string, value decimal.Decimal, capAmount *decimal.Decimal, shippingValue decimal.Decimal) (voucher.Benefit, error) {
	switch voucher.Category(category) {
	case voucher.CategoryDiscount:
		if kind == nil {
			return nil, errors.New("discount voucher without discount_kind")
		}
		b := voucher.ProductDiscount{
			Kind:  voucher.DiscountKind(*kind),
			Value: value,
		}
		if capAmount != nil {
			b.Cap = *capAmount
		}
		return b, nil
	case voucher.CategoryShipping:
		return voucher.ShippingDiscount{Value: shippingValue}, nil
	default:
		return nil, errors.Errorf("unknown voucher category %q", category)
	}
}

func scanRedemption(row pgx.CollectableRow) (voucher.Redemption, error) {
	var rec voucher.Redemption
	err := row.Scan(&rec.ID, &rec.VoucherID, &rec.UserID, &rec.OrderID,
		&rec.DiscountAmount, &rec.RedeemedAt)
	return rec, err
}
