package voucher

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Aggregate is the combined verdict for a whole selection. It is advisory:
// composing mutates nothing, and re-composing the same inputs yields the
// same aggregate.
type Aggregate struct {
	Results       []Result
	TotalDiscount decimal.Decimal
	FinalAmount   decimal.Decimal
	AppliedCount  int
}

// Service is the read-only half of the engine: catalog listing and selection
// composition. The state-changing commit lives in the redemption ledger.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a Service backed by the given catalog repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// catalogError carries an infrastructure cause while matching
// ErrCatalogUnavailable under errors.Is, so read failures surface as a
// distinct condition instead of an empty catalog.
type catalogError struct {
	cause error
}

func (e *catalogError) Error() string {
	return ErrCatalogUnavailable.Error() + ": " + e.cause.Error()
}

func (e *catalogError) Unwrap() error { return e.cause }

func (e *catalogError) Is(target error) bool { return target == ErrCatalogUnavailable }

// List returns the vouchers matching the filter.
func (s *Service) List(ctx context.Context, f Filter) ([]Voucher, error) {
	vouchers, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, &catalogError{cause: err}
	}
	return vouchers, nil
}

// History returns a page of the user's redemption records, newest first.
func (s *Service) History(ctx context.Context, userID string, page, limit int) ([]Redemption, error) {
	records, err := s.repo.History(ctx, userID, page, limit)
	if err != nil {
		return nil, &catalogError{cause: err}
	}
	return records, nil
}

// Get returns a single voucher by id. Infrastructure failures surface as
// ErrCatalogUnavailable; an unknown id stays ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Voucher, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, &catalogError{cause: err}
	}
	return v, nil
}

// ValidateVoucher previews a single voucher against the order. Unlike
// Compose it does not need the caller to know the voucher's category.
func (s *Service) ValidateVoucher(ctx context.Context, voucherID string, ord OrderContext) (*Aggregate, error) {
	v, err := s.repo.GetByID(ctx, voucherID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			agg := Summarize([]Result{{
				VoucherID: voucherID,
				Valid:     false,
				Reason:    ReasonVoucherUnavailable,
			}}, ord)
			return &agg, nil
		}
		return nil, &catalogError{cause: err}
	}

	userUses, err := s.repo.UserRedemptionCount(ctx, voucherID, ord.UserID)
	if err != nil {
		return nil, &catalogError{cause: err}
	}

	agg := Summarize([]Result{Validate(v, userUses, ord, s.now())}, ord)
	return &agg, nil
}

// Compose validates every candidate in the selection independently against
// the original order context and aggregates the verdicts. Candidates are
// never evaluated against each other's discounted totals. Per-voucher
// results are returned even when invalid so callers can present partial
// feedback.
//
// Structural selection errors (empty set, duplicate category) reject the
// whole call before any voucher is looked at.
func (s *Service) Compose(ctx context.Context, sel Selection, ord OrderContext) (*Aggregate, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	results := make([]Result, 0, len(sel))
	for _, c := range sel {
		res, err := s.validateCandidate(ctx, c, ord, now)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	agg := Summarize(results, ord)
	return &agg, nil
}

func (s *Service) validateCandidate(ctx context.Context, c Candidate, ord OrderContext, now time.Time) (Result, error) {
	v, err := s.repo.GetByID(ctx, c.VoucherID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return unavailableResult(c), nil
		}
		return Result{}, &catalogError{cause: err}
	}
	// A candidate claiming the wrong slot for its voucher is indistinguishable
	// from a stale client catalog; report the voucher as unavailable.
	if v.Category() != c.Category {
		return unavailableResult(c), nil
	}

	userUses, err := s.repo.UserRedemptionCount(ctx, c.VoucherID, ord.UserID)
	if err != nil {
		return Result{}, &catalogError{cause: err}
	}

	return Validate(v, userUses, ord, now), nil
}

func unavailableResult(c Candidate) Result {
	return Result{
		VoucherID: c.VoucherID,
		Category:  c.Category,
		Valid:     false,
		Reason:    ReasonVoucherUnavailable,
	}
}

// Summarize folds per-voucher results into the order-level aggregate:
// total discount, payable amount, and the number of applied vouchers.
func Summarize(results []Result, ord OrderContext) Aggregate {
	var productDiscount, shippingDiscount decimal.Decimal
	applied := 0
	for _, r := range results {
		if !r.Valid {
			continue
		}
		applied++
		switch r.Category {
		case CategoryShipping:
			shippingDiscount = shippingDiscount.Add(r.DiscountAmount)
		default:
			productDiscount = productDiscount.Add(r.DiscountAmount)
		}
	}
	return Aggregate{
		Results:       results,
		TotalDiscount: productDiscount.Add(shippingDiscount),
		FinalAmount:   Finalize(ord, productDiscount, shippingDiscount),
		AppliedCount:  applied,
	}
}
