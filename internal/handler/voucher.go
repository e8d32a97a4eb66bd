package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/quangvu/storefront-voucher-engine/internal/domain/redemption"
	"github.com/quangvu/storefront-voucher-engine/internal/domain/voucher"
)

// Monetary amounts travel as whole currency units on the wire, so the DTOs
// use int64 and conversion to decimal happens at this boundary.

type candidateDTO struct {
	VoucherID string `json:"voucher_id" validate:"required"`
	Category  string `json:"category"   validate:"required,oneof=discount shipping"`
}

type validateRequest struct {
	VoucherID    string `json:"voucher_id"    validate:"required"`
	UserID       string `json:"user_id"       validate:"required"`
	OrderValue   int64  `json:"order_value"   validate:"gte=0"`
	ShippingCost int64  `json:"shipping_cost" validate:"gte=0"`
}

type validateMultipleRequest struct {
	Vouchers     []candidateDTO `json:"vouchers"      validate:"required,min=1,max=2,dive"`
	UserID       string         `json:"user_id"       validate:"required"`
	OrderValue   int64          `json:"order_value"   validate:"gte=0"`
	ShippingCost int64          `json:"shipping_cost" validate:"gte=0"`
}

type useRequest struct {
	VoucherID    string `json:"voucher_id"    validate:"required"`
	UserID       string `json:"user_id"       validate:"required"`
	OrderID      string `json:"order_id"      validate:"required"`
	OrderValue   int64  `json:"order_value"   validate:"gte=0"`
	ShippingCost int64  `json:"shipping_cost" validate:"gte=0"`
}

type useMultipleRequest struct {
	Vouchers     []candidateDTO `json:"vouchers"      validate:"required,min=1,max=2,dive"`
	UserID       string         `json:"user_id"       validate:"required"`
	OrderID      string         `json:"order_id"      validate:"required"`
	OrderValue   int64          `json:"order_value"   validate:"gte=0"`
	ShippingCost int64          `json:"shipping_cost" validate:"gte=0"`
}

type resultDTO struct {
	VoucherID      string `json:"voucher_id"`
	Category       string `json:"category"`
	Valid          bool   `json:"valid"`
	DiscountAmount int64  `json:"discount_amount"`
	Reason         string `json:"reason,omitempty"`
}

type summaryDTO struct {
	TotalDiscount   int64 `json:"total_discount"`
	FinalAmount     int64 `json:"final_amount"`
	VouchersApplied int   `json:"vouchers_applied"`
}

type validateResponse struct {
	Valid          bool   `json:"valid"`
	DiscountAmount int64  `json:"discount_amount"`
	FinalAmount    int64  `json:"final_amount"`
	Message        string `json:"message,omitempty"`
}

type validateMultipleResponse struct {
	Results []resultDTO `json:"results"`
	Summary summaryDTO  `json:"summary"`
	Message string      `json:"message,omitempty"`
}

type useResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type useMultipleResponse struct {
	Success bool        `json:"success"`
	Results []resultDTO `json:"results"`
	Summary summaryDTO  `json:"summary"`
	Message string      `json:"message,omitempty"`
}

type voucherDTO struct {
	ID                    string     `json:"id"`
	Title                 string     `json:"title"`
	Description           string     `json:"description,omitempty"`
	Category              string     `json:"category"`
	DiscountKind          string     `json:"discount_kind,omitempty"`
	DiscountValue         int64      `json:"discount_value,omitempty"`
	DiscountCap           int64      `json:"discount_cap,omitempty"`
	ShippingDiscountValue int64      `json:"shipping_discount_value,omitempty"`
	MinOrderValue         int64      `json:"min_order_value"`
	UsageLimit            int        `json:"usage_limit"`
	UsageCount            int        `json:"usage_count"`
	MaxPerUser            int        `json:"max_per_user"`
	ValidFrom             *time.Time `json:"valid_from,omitempty"`
	ValidUntil            *time.Time `json:"valid_until,omitempty"`
}

type redemptionDTO struct {
	VoucherID      string    `json:"voucher_id"`
	OrderID        string    `json:"order_id"`
	DiscountAmount int64     `json:"discount_amount"`
	RedeemedAt     time.Time `json:"redeemed_at"`
}

// listVouchers serves the catalog read: GET /vouchers?min_order_value=&category=.
func (h *Handler) listVouchers(w http.ResponseWriter, r *http.Request) {
	var f voucher.Filter
	if raw := r.URL.Query().Get("min_order_value"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			h.respondBadRequest(w, r, errors.New("min_order_value must be a non-negative integer"))
			return
		}
		v := decimal.NewFromInt(n)
		f.OrderValue = &v
	}
	if raw := r.URL.Query().Get("category"); raw != "" {
		c := voucher.Category(raw)
		if !c.Known() {
			h.respondBadRequest(w, r, errors.Errorf("unknown category %q", raw))
			return
		}
		f.Category = &c
	}

	vouchers, err := h.vouchers.List(r.Context(), f)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	out := make([]voucherDTO, len(vouchers))
	for i := range vouchers {
		out[i] = toVoucherDTO(&vouchers[i])
	}
	h.respond(w, r, http.StatusOK, out)
}

// validateVoucher serves the single-voucher preview.
func (h *Handler) validateVoucher(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := h.decode(r, &req); err != nil {
		h.respondBadRequest(w, r, err)
		return
	}

	ord := orderContext(req.UserID, "", req.OrderValue, req.ShippingCost)
	agg, err := h.vouchers.ValidateVoucher(r.Context(), req.VoucherID, ord)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	res := agg.Results[0]
	h.respond(w, r, http.StatusOK, validateResponse{
		Valid:          res.Valid,
		DiscountAmount: res.DiscountAmount.IntPart(),
		FinalAmount:    agg.FinalAmount.IntPart(),
		Message:        string(res.Reason),
	})
}

// validateMultiple serves the read-only selection preview.
func (h *Handler) validateMultiple(w http.ResponseWriter, r *http.Request) {
	var req validateMultipleRequest
	if err := h.decode(r, &req); err != nil {
		h.respondBadRequest(w, r, err)
		return
	}

	ord := orderContext(req.UserID, "", req.OrderValue, req.ShippingCost)
	agg, err := h.vouchers.Compose(r.Context(), toSelection(req.Vouchers), ord)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := validateMultipleResponse{
		Results: toResultDTOs(agg.Results),
		Summary: summaryDTO{
			TotalDiscount:   agg.TotalDiscount.IntPart(),
			FinalAmount:     agg.FinalAmount.IntPart(),
			VouchersApplied: agg.AppliedCount,
		},
	}
	// Some but not all candidates valid: expected and recoverable, surfaced
	// per voucher with an aggregate-level signal.
	if agg.AppliedCount > 0 && agg.AppliedCount < len(agg.Results) {
		resp.Message = "partial_validation_failure"
	}
	h.respond(w, r, http.StatusOK, resp)
}

// useVoucher serves the single-voucher commit. The voucher's category is
// looked up so the commit can run through the same all-or-nothing ledger
// path as multi-voucher redemptions.
func (h *Handler) useVoucher(w http.ResponseWriter, r *http.Request) {
	var req useRequest
	if err := h.decode(r, &req); err != nil {
		h.respondBadRequest(w, r, err)
		return
	}

	v, err := h.vouchers.Get(r.Context(), req.VoucherID)
	if err != nil {
		if errors.Is(err, voucher.ErrNotFound) {
			h.respond(w, r, http.StatusUnprocessableEntity, useResponse{
				Success: false,
				Message: string(voucher.ReasonVoucherUnavailable),
			})
			return
		}
		h.respondError(w, r, err)
		return
	}

	sel := voucher.Selection{{VoucherID: v.ID, Category: v.Category()}}
	ord := orderContext(req.UserID, req.OrderID, req.OrderValue, req.ShippingCost)
	_, err = h.ledger.Redeem(r.Context(), sel, ord)
	if err != nil {
		var rej *redemption.RejectedError
		if errors.As(err, &rej) {
			h.respond(w, r, http.StatusUnprocessableEntity, useResponse{
				Success: false,
				Message: string(rej.Results[0].Reason),
			})
			return
		}
		h.respondError(w, r, err)
		return
	}

	h.respond(w, r, http.StatusOK, useResponse{Success: true})
}

// useMultiple serves the all-or-nothing selection commit.
func (h *Handler) useMultiple(w http.ResponseWriter, r *http.Request) {
	var req useMultipleRequest
	if err := h.decode(r, &req); err != nil {
		h.respondBadRequest(w, r, err)
		return
	}

	ord := orderContext(req.UserID, req.OrderID, req.OrderValue, req.ShippingCost)
	receipt, err := h.ledger.Redeem(r.Context(), toSelection(req.Vouchers), ord)
	if err != nil {
		var rej *redemption.RejectedError
		if errors.As(err, &rej) {
			// The whole transaction was undone; no voucher kept an increment.
			h.respond(w, r, http.StatusUnprocessableEntity, useMultipleResponse{
				Success: false,
				Results: toResultDTOs(rej.Results),
				Message: "redemption_rolled_back",
			})
			return
		}
		h.respondError(w, r, err)
		return
	}

	h.respond(w, r, http.StatusOK, useMultipleResponse{
		Success: true,
		Results: toResultDTOs(receipt.Results),
		Summary: summaryDTO{
			TotalDiscount:   receipt.TotalDiscount.IntPart(),
			FinalAmount:     receipt.FinalAmount.IntPart(),
			VouchersApplied: len(receipt.Results),
		},
	})
}

// usageHistory serves the audit read: GET /vouchers/history?user_id=&page=&limit=.
func (h *Handler) usageHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.respondBadRequest(w, r, errors.New("user_id is required"))
		return
	}
	page, err := positiveQueryInt(r, "page", 1)
	if err != nil {
		h.respondBadRequest(w, r, err)
		return
	}
	limit, err := positiveQueryInt(r, "limit", 20)
	if err != nil {
		h.respondBadRequest(w, r, err)
		return
	}
	if limit > h.cfg.HistoryMaxLimit {
		limit = h.cfg.HistoryMaxLimit
	}

	records, err := h.vouchers.History(r.Context(), userID, page, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	out := make([]redemptionDTO, len(records))
	for i, rec := range records {
		out[i] = redemptionDTO{
			VoucherID:      rec.VoucherID,
			OrderID:        rec.OrderID,
			DiscountAmount: rec.DiscountAmount.IntPart(),
			RedeemedAt:     rec.RedeemedAt,
		}
	}
	h.respond(w, r, http.StatusOK, out)
}

func positiveQueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

func orderContext(userID, orderID string, orderValue, shippingCost int64) voucher.OrderContext {
	return voucher.OrderContext{
		Subtotal:     decimal.NewFromInt(orderValue),
		ShippingCost: decimal.NewFromInt(shippingCost),
		UserID:       userID,
		OrderID:      orderID,
	}
}

func toSelection(candidates []candidateDTO) voucher.Selection {
	sel := make(voucher.Selection, len(candidates))
	for i, c := range candidates {
		sel[i] = voucher.Candidate{
			VoucherID: c.VoucherID,
			Category:  voucher.Category(c.Category),
		}
	}
	return sel
}

func toResultDTOs(results []voucher.Result) []resultDTO {
	out := make([]resultDTO, len(results))
	for i, res := range results {
		out[i] = resultDTO{
			VoucherID:      res.VoucherID,
			Category:       string(res.Category),
			Valid:          res.Valid,
			DiscountAmount: res.DiscountAmount.IntPart(),
			Reason:         string(res.Reason),
		}
	}
	return out
}

func toVoucherDTO(v *voucher.Voucher) voucherDTO {
	dto := voucherDTO{
		ID:            v.ID,
		Title:         v.Title,
		Description:   v.Description,
		Category:      string(v.Category()),
		MinOrderValue: v.MinOrderValue.IntPart(),
		UsageLimit:    v.UsageLimit,
		UsageCount:    v.UsageCount,
		MaxPerUser:    v.MaxPerUser,
		ValidFrom:     v.ValidFrom,
		ValidUntil:    v.ValidUntil,
	}
	switch b := v.Benefit.(type) {
	case voucher.ProductDiscount:
		dto.DiscountKind = string(b.Kind)
		dto.DiscountValue = b.Value.IntPart()
		dto.DiscountCap = b.Cap.IntPart()
	case voucher.ShippingDiscount:
		dto.ShippingDiscountValue = b.Value.IntPart()
	}
	return dto
}
