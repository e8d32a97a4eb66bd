package voucher

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRepo is a hand-rolled catalog backed by a map, with injectable
// failures for the infrastructure error paths.
type mockRepo struct {
	vouchers map[string]*Voucher
	uses     map[string]int // key: voucherID + "/" + userID
	failWith error
}

func newMockRepo(vouchers ...*Voucher) *mockRepo {
	m := &mockRepo{
		vouchers: make(map[string]*Voucher),
		uses:     make(map[string]int),
	}
	for _, v := range vouchers {
		m.vouchers[v.ID] = v
	}
	return m
}

func (m *mockRepo) GetByID(_ context.Context, id string) (*Voucher, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	v, ok := m.vouchers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, f Filter) ([]Voucher, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	var out []Voucher
	for _, v := range m.vouchers {
		if f.OrderValue != nil && v.MinOrderValue.GreaterThan(*f.OrderValue) {
			continue
		}
		if f.Category != nil && v.Category() != *f.Category {
			continue
		}
		out = append(out, *v)
	}
	return out, nil
}

func (m *mockRepo) UserRedemptionCount(_ context.Context, voucherID, userID string) (int, error) {
	if m.failWith != nil {
		return 0, m.failWith
	}
	return m.uses[voucherID+"/"+userID], nil
}

func (m *mockRepo) History(_ context.Context, _ string, _, _ int) ([]Redemption, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	return nil, nil
}

func (m *mockRepo) InTx(_ context.Context, _ func(Store) error) error {
	return errors.New("mockRepo does not support transactions")
}

func newTestService(repo Repository) *Service {
	s := NewService(repo)
	s.now = func() time.Time { return fixedNow }
	return s
}

func discountVoucher() *Voucher {
	return &Voucher{
		ID:            "WELCOME20",
		MinOrderValue: d(100_000),
		Active:        true,
		Benefit:       ProductDiscount{Kind: KindFixed, Value: d(20_000)},
	}
}

func shippingVoucher() *Voucher {
	return &Voucher{
		ID:      "FREESHIP15",
		Active:  true,
		Benefit: ShippingDiscount{Value: d(15_000)},
	}
}

func TestSelection_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sel     Selection
		wantErr error
		wantAny bool
	}{
		{
			name:    "empty selection rejected",
			sel:     Selection{},
			wantErr: ErrEmptySelection,
		},
		{
			name: "single candidate accepted",
			sel:  Selection{{VoucherID: "WELCOME20", Category: CategoryDiscount}},
		},
		{
			name: "one per category accepted",
			sel: Selection{
				{VoucherID: "WELCOME20", Category: CategoryDiscount},
				{VoucherID: "FREESHIP15", Category: CategoryShipping},
			},
		},
		{
			name: "duplicate category rejected",
			sel: Selection{
				{VoucherID: "WELCOME20", Category: CategoryDiscount},
				{VoucherID: "SAVE20PCT", Category: CategoryDiscount},
			},
			wantErr: ErrCategoryConflict,
		},
		{
			name:    "missing voucher id rejected",
			sel:     Selection{{Category: CategoryDiscount}},
			wantAny: true,
		},
		{
			name:    "unknown category rejected",
			sel:     Selection{{VoucherID: "LOYAL5", Category: Category("loyalty")}},
			wantAny: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sel.Validate()
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantAny:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestService_Compose(t *testing.T) {
	ord := OrderContext{Subtotal: d(300_000), ShippingCost: d(30_000), UserID: "user-1"}

	t.Run("discount and shipping voucher together", func(t *testing.T) {
		svc := newTestService(newMockRepo(discountVoucher(), shippingVoucher()))

		agg, err := svc.Compose(context.Background(), Selection{
			{VoucherID: "WELCOME20", Category: CategoryDiscount},
			{VoucherID: "FREESHIP15", Category: CategoryShipping},
		}, ord)

		require.NoError(t, err)
		assert.Equal(t, 2, agg.AppliedCount)
		assert.True(t, d(35_000).Equal(agg.TotalDiscount), "total discount %s", agg.TotalDiscount)
		assert.True(t, d(295_000).Equal(agg.FinalAmount), "final amount %s", agg.FinalAmount)
		require.Len(t, agg.Results, 2)
		assert.True(t, agg.Results[0].Valid)
		assert.True(t, agg.Results[1].Valid)
	})

	t.Run("partial validity still aggregates the rest", func(t *testing.T) {
		expensive := discountVoucher()
		expensive.MinOrderValue = d(1_000_000)
		svc := newTestService(newMockRepo(expensive, shippingVoucher()))

		agg, err := svc.Compose(context.Background(), Selection{
			{VoucherID: "WELCOME20", Category: CategoryDiscount},
			{VoucherID: "FREESHIP15", Category: CategoryShipping},
		}, ord)

		require.NoError(t, err)
		assert.Equal(t, 1, agg.AppliedCount)
		require.Len(t, agg.Results, 2)
		assert.False(t, agg.Results[0].Valid)
		assert.Equal(t, ReasonMinOrderNotMet, agg.Results[0].Reason)
		assert.True(t, agg.Results[1].Valid)
		assert.True(t, d(15_000).Equal(agg.TotalDiscount))
		assert.True(t, d(315_000).Equal(agg.FinalAmount))
	})

	t.Run("unknown voucher id reported unavailable", func(t *testing.T) {
		svc := newTestService(newMockRepo(shippingVoucher()))

		agg, err := svc.Compose(context.Background(), Selection{
			{VoucherID: "NOPE", Category: CategoryDiscount},
			{VoucherID: "FREESHIP15", Category: CategoryShipping},
		}, ord)

		require.NoError(t, err)
		require.Len(t, agg.Results, 2)
		assert.False(t, agg.Results[0].Valid)
		assert.Equal(t, ReasonVoucherUnavailable, agg.Results[0].Reason)
		assert.Equal(t, 1, agg.AppliedCount)
	})

	t.Run("candidate claiming the wrong slot reported unavailable", func(t *testing.T) {
		svc := newTestService(newMockRepo(discountVoucher()))

		agg, err := svc.Compose(context.Background(), Selection{
			{VoucherID: "WELCOME20", Category: CategoryShipping},
		}, ord)

		require.NoError(t, err)
		require.Len(t, agg.Results, 1)
		assert.False(t, agg.Results[0].Valid)
		assert.Equal(t, ReasonVoucherUnavailable, agg.Results[0].Reason)
	})

	t.Run("duplicate category rejects the whole call", func(t *testing.T) {
		svc := newTestService(newMockRepo(discountVoucher()))

		_, err := svc.Compose(context.Background(), Selection{
			{VoucherID: "WELCOME20", Category: CategoryDiscount},
			{VoucherID: "SAVE20PCT", Category: CategoryDiscount},
		}, ord)

		assert.ErrorIs(t, err, ErrCategoryConflict)
	})

	t.Run("empty selection rejected", func(t *testing.T) {
		svc := newTestService(newMockRepo())

		_, err := svc.Compose(context.Background(), Selection{}, ord)

		assert.ErrorIs(t, err, ErrEmptySelection)
	})

	t.Run("infrastructure failure surfaces as catalog unavailable", func(t *testing.T) {
		repo := newMockRepo(discountVoucher())
		repo.failWith = errors.New("connection refused")
		svc := newTestService(repo)

		_, err := svc.Compose(context.Background(), Selection{
			{VoucherID: "WELCOME20", Category: CategoryDiscount},
		}, ord)

		assert.ErrorIs(t, err, ErrCatalogUnavailable)
	})

	t.Run("composing mutates nothing and is repeatable", func(t *testing.T) {
		repo := newMockRepo(discountVoucher(), shippingVoucher())
		svc := newTestService(repo)
		sel := Selection{
			{VoucherID: "WELCOME20", Category: CategoryDiscount},
			{VoucherID: "FREESHIP15", Category: CategoryShipping},
		}

		first, err := svc.Compose(context.Background(), sel, ord)
		require.NoError(t, err)
		second, err := svc.Compose(context.Background(), sel, ord)
		require.NoError(t, err)

		assert.Equal(t, first.AppliedCount, second.AppliedCount)
		assert.True(t, first.TotalDiscount.Equal(second.TotalDiscount))
		assert.True(t, first.FinalAmount.Equal(second.FinalAmount))
		assert.Equal(t, 0, repo.vouchers["WELCOME20"].UsageCount)
	})
}

func TestService_ValidateVoucher(t *testing.T) {
	ord := OrderContext{Subtotal: d(300_000), ShippingCost: d(30_000), UserID: "user-1"}

	t.Run("known voucher previews without category hint", func(t *testing.T) {
		svc := newTestService(newMockRepo(shippingVoucher()))

		agg, err := svc.ValidateVoucher(context.Background(), "FREESHIP15", ord)

		require.NoError(t, err)
		require.Len(t, agg.Results, 1)
		assert.True(t, agg.Results[0].Valid)
		assert.Equal(t, CategoryShipping, agg.Results[0].Category)
		assert.True(t, d(315_000).Equal(agg.FinalAmount))
	})

	t.Run("unknown voucher previews as unavailable", func(t *testing.T) {
		svc := newTestService(newMockRepo())

		agg, err := svc.ValidateVoucher(context.Background(), "NOPE", ord)

		require.NoError(t, err)
		require.Len(t, agg.Results, 1)
		assert.False(t, agg.Results[0].Valid)
		assert.Equal(t, ReasonVoucherUnavailable, agg.Results[0].Reason)
		assert.True(t, d(330_000).Equal(agg.FinalAmount))
	})

	t.Run("per-user limit counts prior redemptions", func(t *testing.T) {
		v := discountVoucher()
		v.MaxPerUser = 1
		repo := newMockRepo(v)
		repo.uses["WELCOME20/user-1"] = 1
		svc := newTestService(repo)

		agg, err := svc.ValidateVoucher(context.Background(), "WELCOME20", ord)

		require.NoError(t, err)
		require.Len(t, agg.Results, 1)
		assert.False(t, agg.Results[0].Valid)
		assert.Equal(t, ReasonUserLimitExceeded, agg.Results[0].Reason)
	})
}

func TestService_Get(t *testing.T) {
	t.Run("unknown id stays not found", func(t *testing.T) {
		svc := newTestService(newMockRepo())

		_, err := svc.Get(context.Background(), "NOPE")

		assert.ErrorIs(t, err, ErrNotFound)
		assert.NotErrorIs(t, err, ErrCatalogUnavailable)
	})

	t.Run("infrastructure failure becomes catalog unavailable", func(t *testing.T) {
		repo := newMockRepo()
		repo.failWith = errors.New("connection refused")
		svc := newTestService(repo)

		_, err := svc.Get(context.Background(), "WELCOME20")

		assert.ErrorIs(t, err, ErrCatalogUnavailable)
	})
}

func TestService_List_FilterByOrderValue(t *testing.T) {
	big := discountVoucher()
	big.ID = "BIGSPEND"
	big.MinOrderValue = d(500_000)
	svc := newTestService(newMockRepo(discountVoucher(), big))

	orderValue := d(300_000)
	vouchers, err := svc.List(context.Background(), Filter{OrderValue: &orderValue})

	require.NoError(t, err)
	require.Len(t, vouchers, 1)
	assert.Equal(t, "WELCOME20", vouchers[0].ID)
}
