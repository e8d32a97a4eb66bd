// Package memory provides a mutex-guarded in-memory implementation of the
// voucher storage contracts. It backs unit tests and local development; the
// production adapter lives in the parent repository package.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/quangvu/storefront-voucher-engine/internal/domain/voucher"
)

var (
	_ voucher.Repository = (*Repository)(nil)
	_ voucher.Store      = (*store)(nil)
)

// Repository keeps vouchers and redemptions in process memory. InTx holds
// the repository lock for the whole callback, so concurrent commits are
// serialized the way a database transaction over locked rows would be, and
// a failed callback restores the pre-transaction snapshot.
type Repository struct {
	mu          sync.Mutex
	vouchers    map[string]voucher.Voucher
	redemptions []voucher.Redemption
}

// NewRepository returns an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{vouchers: make(map[string]voucher.Voucher)}
}

// Put inserts or replaces a voucher definition.
func (r *Repository) Put(v voucher.Voucher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vouchers[v.ID] = v
}

func (r *Repository) GetByID(_ context.Context, id string) (*voucher.Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vouchers[id]
	if !ok {
		return nil, voucher.ErrNotFound
	}
	return &v, nil
}

func (r *Repository) List(_ context.Context, f voucher.Filter) ([]voucher.Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]voucher.Voucher, 0, len(r.vouchers))
	for _, v := range r.vouchers {
		if !v.Active {
			continue
		}
		if f.OrderValue != nil && v.MinOrderValue.GreaterThan(*f.OrderValue) {
			continue
		}
		if f.Category != nil && v.Category() != *f.Category {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MinOrderValue.Equal(out[j].MinOrderValue) {
			return out[i].MinOrderValue.LessThan(out[j].MinOrderValue)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Repository) UserRedemptionCount(_ context.Context, voucherID, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(voucherID, userID), nil
}

func (r *Repository) History(_ context.Context, userID string, page, limit int) ([]voucher.Redemption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make([]voucher.Redemption, 0)
	for _, rec := range r.redemptions {
		if rec.UserID == userID {
			records = append(records, rec)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RedeemedAt.After(records[j].RedeemedAt)
	})

	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(records) {
		return []voucher.Redemption{}, nil
	}
	end := start + limit
	if end > len(records) {
		end = len(records)
	}
	return records[start:end], nil
}

// InTx serializes the callback under the repository lock and rolls the whole
// state back when it returns an error.
func (r *Repository) InTx(_ context.Context, fn func(voucher.Store) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshotLocked()
	if err := fn(&store{repo: r}); err != nil {
		r.restoreLocked(snapshot)
		return err
	}
	return nil
}

func (r *Repository) countLocked(voucherID, userID string) int {
	count := 0
	for _, rec := range r.redemptions {
		if rec.VoucherID == voucherID && rec.UserID == userID {
			count++
		}
	}
	return count
}

type state struct {
	vouchers    map[string]voucher.Voucher
	redemptions []voucher.Redemption
}

func (r *Repository) snapshotLocked() state {
	vouchers := make(map[string]voucher.Voucher, len(r.vouchers))
	for id, v := range r.vouchers {
		vouchers[id] = v
	}
	redemptions := make([]voucher.Redemption, len(r.redemptions))
	copy(redemptions, r.redemptions)
	return state{vouchers: vouchers, redemptions: redemptions}
}

func (r *Repository) restoreLocked(s state) {
	r.vouchers = s.vouchers
	r.redemptions = s.redemptions
}

// store operates on the repository while InTx holds its lock.
type store struct {
	repo *Repository
}

func (s *store) GetForUpdate(_ context.Context, id string) (*voucher.Voucher, error) {
	v, ok := s.repo.vouchers[id]
	if !ok {
		return nil, voucher.ErrNotFound
	}
	return &v, nil
}

func (s *store) UserRedemptionCount(_ context.Context, voucherID, userID string) (int, error) {
	return s.repo.countLocked(voucherID, userID), nil
}

func (s *store) FindRedemption(_ context.Context, voucherID, orderID string) (*voucher.Redemption, error) {
	for _, rec := range s.repo.redemptions {
		if rec.VoucherID == voucherID && rec.OrderID == orderID {
			r := rec
			return &r, nil
		}
	}
	return nil, voucher.ErrNotFound
}

func (s *store) IncrementUsage(_ context.Context, id string) (bool, error) {
	v, ok := s.repo.vouchers[id]
	if !ok {
		return false, voucher.ErrNotFound
	}
	if v.UsageLimit > 0 && v.UsageCount >= v.UsageLimit {
		return false, nil
	}
	v.UsageCount++
	s.repo.vouchers[id] = v
	return true, nil
}

func (s *store) InsertRedemption(_ context.Context, rec *voucher.Redemption) error {
	s.repo.redemptions = append(s.repo.redemptions, *rec)
	return nil
}
