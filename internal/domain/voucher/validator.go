package voucher

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reason is the machine-readable code attached to an invalid Result.
type Reason string

const (
	ReasonVoucherUnavailable Reason = "voucher_unavailable"
	ReasonNotYetActive       Reason = "not_yet_active"
	ReasonExpired            Reason = "expired"
	ReasonMinOrderNotMet     Reason = "min_order_not_met"
	ReasonUsageLimitExceeded Reason = "usage_limit_exceeded"
	ReasonUserLimitExceeded  Reason = "user_limit_exceeded"
	ReasonCategoryConflict   Reason = "category_conflict"
)

// reasonOf maps a validation sentinel to its reason code.
func reasonOf(err error) Reason {
	switch err {
	case ErrVoucherUnavailable:
		return ReasonVoucherUnavailable
	case ErrNotYetActive:
		return ReasonNotYetActive
	case ErrExpired:
		return ReasonExpired
	case ErrMinOrderNotMet:
		return ReasonMinOrderNotMet
	case ErrUsageLimitExceeded:
		return ReasonUsageLimitExceeded
	case ErrUserLimitExceeded:
		return ReasonUserLimitExceeded
	default:
		return ReasonVoucherUnavailable
	}
}

// Result is the per-voucher validation verdict.
type Result struct {
	VoucherID      string
	Category       Category
	Valid          bool
	DiscountAmount decimal.Decimal
	// Reason is set only when Valid is false.
	Reason Reason
}

// Check runs the eligibility checks for a single voucher against an order,
// short-circuiting on the first failure. The order of checks is fixed so the
// reported reason is deterministic: availability, activation window, expiry,
// minimum order value, global usage limit, per-user limit.
//
// userUses is the caller-supplied count of this user's prior redemptions of
// the voucher; passing it in keeps Check pure.
func Check(v *Voucher, userUses int, ord OrderContext, now time.Time) error {
	if v == nil || !v.Active {
		return ErrVoucherUnavailable
	}
	if v.ValidFrom != nil && now.Before(*v.ValidFrom) {
		return ErrNotYetActive
	}
	if v.ValidUntil != nil && now.After(*v.ValidUntil) {
		return ErrExpired
	}
	if ord.Subtotal.LessThan(v.MinOrderValue) {
		return ErrMinOrderNotMet
	}
	if v.UsageLimit > 0 && v.UsageCount >= v.UsageLimit {
		return ErrUsageLimitExceeded
	}
	if v.MaxPerUser > 0 && userUses >= v.MaxPerUser {
		return ErrUserLimitExceeded
	}
	return nil
}

// Validate runs Check and, on success, computes the discount amount.
func Validate(v *Voucher, userUses int, ord OrderContext, now time.Time) Result {
	if err := Check(v, userUses, ord, now); err != nil {
		res := Result{Valid: false, Reason: reasonOf(err)}
		if v != nil {
			res.VoucherID = v.ID
			res.Category = v.Category()
		}
		return res
	}
	return Result{
		VoucherID:      v.ID,
		Category:       v.Category(),
		Valid:          true,
		DiscountAmount: v.Benefit.Amount(ord),
	}
}
