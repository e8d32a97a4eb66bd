package voucher

import "github.com/go-faster/errors"

// Candidate references one voucher in a selection, tagged with the category
// slot it claims.
type Candidate struct {
	VoucherID string
	Category  Category
}

// Selection is the caller-supplied candidate set: at most one voucher per
// category. A selection breaking that rule is a caller error and is rejected
// before any per-voucher validation runs.
type Selection []Candidate

// Validate enforces the structural selection rules. It does not touch any
// voucher state.
func (s Selection) Validate() error {
	if len(s) == 0 {
		return ErrEmptySelection
	}
	seen := make(map[Category]string, len(s))
	for _, c := range s {
		if c.VoucherID == "" {
			return errors.New("candidate voucher id required")
		}
		if !c.Category.Known() {
			return errors.Errorf("unknown voucher category %q", c.Category)
		}
		if prev, dup := seen[c.Category]; dup {
			return errors.Wrapf(ErrCategoryConflict,
				"vouchers %s and %s both claim the %s slot", prev, c.VoucherID, c.Category)
		}
		seen[c.Category] = c.VoucherID
	}
	return nil
}
