// Package redemption implements the state-changing half of the voucher
// engine: the all-or-nothing, idempotent commit of a validated selection.
package redemption

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/quangvu/storefront-voucher-engine/internal/domain/voucher"
)

// ErrMissingOrderID is returned when a commit is attempted without the order
// id that keys idempotent retries.
var ErrMissingOrderID = errors.New("order id required for redemption")

// Receipt is the outcome of a committed redemption.
type Receipt struct {
	Results       []voucher.Result
	TotalDiscount decimal.Decimal
	FinalAmount   decimal.Decimal
	// Replayed is true when the call matched an earlier commit for the same
	// order id and returned its recorded outcome instead of redeeming again.
	Replayed bool
}

// RejectedError reports a redemption rejected at commit time. It carries the
// per-voucher verdicts so the caller can re-present the selection to the
// user. The whole transaction is rolled back: no sibling voucher keeps an
// increment.
type RejectedError struct {
	Results []voucher.Result
}

func (e *RejectedError) Error() string {
	reasons := make([]string, 0, len(e.Results))
	for _, r := range e.Results {
		if !r.Valid {
			reasons = append(reasons, r.VoucherID+": "+string(r.Reason))
		}
	}
	return "redemption rejected: " + strings.Join(reasons, ", ")
}

// Ledger owns all writes to voucher usage state. Each Redeem call re-runs
// full validation against current persisted state and commits every
// candidate, or none, inside a single repository transaction.
type Ledger struct {
	repo voucher.Repository
	now  func() time.Time

	committed metric.Int64Counter
	rejected  metric.Int64Counter
	replayed  metric.Int64Counter
}

// NewLedger creates a Ledger. A nil meter disables metrics.
func NewLedger(repo voucher.Repository, meter metric.Meter) (*Ledger, error) {
	if meter == nil {
		meter = noop.Meter{}
	}
	committed, err := meter.Int64Counter("voucher_redemptions_committed_total",
		metric.WithDescription("Vouchers redeemed by committed redemptions"))
	if err != nil {
		return nil, errors.Wrap(err, "committed counter")
	}
	rejected, err := meter.Int64Counter("voucher_redemptions_rejected_total",
		metric.WithDescription("Redemption attempts rejected at commit time"))
	if err != nil {
		return nil, errors.Wrap(err, "rejected counter")
	}
	replayed, err := meter.Int64Counter("voucher_redemptions_replayed_total",
		metric.WithDescription("Redemption retries answered from the recorded outcome"))
	if err != nil {
		return nil, errors.Wrap(err, "replayed counter")
	}
	return &Ledger{
		repo:      repo,
		now:       time.Now,
		committed: committed,
		rejected:  rejected,
		replayed:  replayed,
	}, nil
}

// Redeem commits the selection against the order. The sequence per candidate
// is: lock current state, re-run full validation, take a guarded usage slot,
// append the audit record. Any failure aborts the transaction, so a
// selection of {discount, shipping} redeems both vouchers or neither.
//
// Retries keyed by the same order id are idempotent: when every candidate
// already has a redemption record for ord.OrderID, the recorded outcome is
// returned and no counter moves.
func (l *Ledger) Redeem(ctx context.Context, sel voucher.Selection, ord voucher.OrderContext) (*Receipt, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if ord.OrderID == "" {
		return nil, ErrMissingOrderID
	}

	var receipt *Receipt
	err := l.repo.InTx(ctx, func(st voucher.Store) error {
		var err error
		receipt, err = l.redeemInTx(ctx, st, sel, ord)
		return err
	})
	if err != nil {
		var rej *RejectedError
		if errors.As(err, &rej) {
			l.rejected.Add(ctx, 1)
			return nil, rej
		}
		return nil, errors.Wrap(err, "redeem")
	}

	if receipt.Replayed {
		l.replayed.Add(ctx, 1)
	} else {
		l.committed.Add(ctx, int64(len(sel)))
	}
	return receipt, nil
}

func (l *Ledger) redeemInTx(ctx context.Context, st voucher.Store, sel voucher.Selection, ord voucher.OrderContext) (*Receipt, error) {
	prior, err := l.findPrior(ctx, st, sel, ord.OrderID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return replayReceipt(prior, sel, ord), nil
	}

	now := l.now()
	results := make([]voucher.Result, len(sel))
	rejected := false
	for i, c := range sel {
		results[i], err = l.validateCandidate(ctx, st, c, ord, now)
		if err != nil {
			return nil, err
		}
		if !results[i].Valid {
			rejected = true
		}
	}
	if rejected {
		return nil, &RejectedError{Results: results}
	}

	// All candidates passed against current state. Consume slots; the guard
	// re-checks the usage limit because a concurrent redeemer may have taken
	// the last slot since the read above.
	for i, c := range sel {
		ok, err := st.IncrementUsage(ctx, c.VoucherID)
		if err != nil {
			return nil, errors.Wrapf(err, "increment usage for voucher %s", c.VoucherID)
		}
		if !ok {
			results[i].Valid = false
			results[i].DiscountAmount = decimal.Zero
			results[i].Reason = voucher.ReasonUsageLimitExceeded
			return nil, &RejectedError{Results: results}
		}
		err = st.InsertRedemption(ctx, &voucher.Redemption{
			ID:             uuid.New().String(),
			VoucherID:      c.VoucherID,
			UserID:         ord.UserID,
			OrderID:        ord.OrderID,
			DiscountAmount: results[i].DiscountAmount,
			RedeemedAt:     now,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "record redemption for voucher %s", c.VoucherID)
		}
	}

	agg := voucher.Summarize(results, ord)
	return &Receipt{
		Results:       results,
		TotalDiscount: agg.TotalDiscount,
		FinalAmount:   agg.FinalAmount,
	}, nil
}

// validateCandidate re-runs full validation for one candidate against the
// voucher's current locked state.
func (l *Ledger) validateCandidate(ctx context.Context, st voucher.Store, c voucher.Candidate, ord voucher.OrderContext, now time.Time) (voucher.Result, error) {
	v, err := st.GetForUpdate(ctx, c.VoucherID)
	if err != nil {
		if errors.Is(err, voucher.ErrNotFound) {
			return voucher.Result{
				VoucherID: c.VoucherID,
				Category:  c.Category,
				Reason:    voucher.ReasonVoucherUnavailable,
			}, nil
		}
		return voucher.Result{}, errors.Wrapf(err, "load voucher %s", c.VoucherID)
	}
	if v.Category() != c.Category {
		return voucher.Result{
			VoucherID: c.VoucherID,
			Category:  c.Category,
			Reason:    voucher.ReasonVoucherUnavailable,
		}, nil
	}
	userUses, err := st.UserRedemptionCount(ctx, c.VoucherID, ord.UserID)
	if err != nil {
		return voucher.Result{}, errors.Wrapf(err, "count redemptions for voucher %s", c.VoucherID)
	}
	return voucher.Validate(v, userUses, ord, now), nil
}

// findPrior returns the earlier redemption records for this order when every
// candidate already has one, nil when none has one, and an error on the
// mixed case, which the all-or-nothing commit makes unreachable short of
// storage corruption.
func (l *Ledger) findPrior(ctx context.Context, st voucher.Store, sel voucher.Selection, orderID string) ([]*voucher.Redemption, error) {
	records := make([]*voucher.Redemption, len(sel))
	found := 0
	for i, c := range sel {
		r, err := st.FindRedemption(ctx, c.VoucherID, orderID)
		if err != nil {
			if errors.Is(err, voucher.ErrNotFound) {
				continue
			}
			return nil, errors.Wrapf(err, "find prior redemption for voucher %s", c.VoucherID)
		}
		records[i] = r
		found++
	}
	switch found {
	case 0:
		return nil, nil
	case len(sel):
		return records, nil
	default:
		return nil, errors.Errorf("order %s holds %d of %d redemption records", orderID, found, len(sel))
	}
}

// replayReceipt rebuilds the receipt of an earlier commit from its audit
// records. prior is indexed parallel to sel.
func replayReceipt(prior []*voucher.Redemption, sel voucher.Selection, ord voucher.OrderContext) *Receipt {
	results := make([]voucher.Result, len(prior))
	for i, r := range prior {
		results[i] = voucher.Result{
			VoucherID:      r.VoucherID,
			Category:       sel[i].Category,
			Valid:          true,
			DiscountAmount: r.DiscountAmount,
		}
	}
	agg := voucher.Summarize(results, ord)
	return &Receipt{
		Results:       results,
		TotalDiscount: agg.TotalDiscount,
		FinalAmount:   agg.FinalAmount,
		Replayed:      true,
	}
}
