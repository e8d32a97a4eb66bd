// Package handler exposes the voucher engine over JSON-over-HTTP.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/quangvu/storefront-voucher-engine/internal/domain/redemption"
	"github.com/quangvu/storefront-voucher-engine/internal/domain/voucher"
)

// Config holds non-dependency handler settings.
type Config struct {
	// HistoryMaxLimit caps the page size of usage history reads.
	HistoryMaxLimit int
}

// Handler routes voucher engine requests to the composer service and the
// redemption ledger.
type Handler struct {
	cfg      Config
	vouchers *voucher.Service
	ledger   *redemption.Ledger
	validate *validator.Validate
}

// NewHandler constructs a Handler with the required engine dependencies.
func NewHandler(cfg Config, vouchers *voucher.Service, ledger *redemption.Ledger) *Handler {
	if cfg.HistoryMaxLimit <= 0 {
		cfg.HistoryMaxLimit = 100
	}
	return &Handler{
		cfg:      cfg,
		vouchers: vouchers,
		ledger:   ledger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes mounts the engine endpoints on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/vouchers", func(r chi.Router) {
		r.Get("/", h.listVouchers)
		r.Get("/history", h.usageHistory)
		r.Post("/validate", h.validateVoucher)
		r.Post("/validate-multiple", h.validateMultiple)
		r.Post("/use", h.useVoucher)
		r.Post("/use-multiple", h.useMultiple)
	})
	return r
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// decode reads and validates a JSON request body into dst.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	if err := h.validate.Struct(dst); err != nil {
		return errors.Wrap(err, "invalid request")
	}
	return nil
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zctx.From(r.Context()).Error("encode response", zap.Error(err))
	}
}

func (h *Handler) respondBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	h.respond(w, r, http.StatusBadRequest, errorResponse{
		Code:    http.StatusBadRequest,
		Message: err.Error(),
	})
}

// respondError maps engine errors onto HTTP statuses. Validation verdicts
// never reach this path; they travel as data on the result payloads.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, voucher.ErrEmptySelection) || errors.Is(err, redemption.ErrMissingOrderID):
		h.respondBadRequest(w, r, err)
	case errors.Is(err, voucher.ErrCategoryConflict):
		h.respond(w, r, http.StatusConflict, errorResponse{
			Code:    http.StatusConflict,
			Message: string(voucher.ReasonCategoryConflict),
		})
	case errors.Is(err, voucher.ErrCatalogUnavailable):
		zctx.From(r.Context()).Error("voucher catalog unavailable", zap.Error(err))
		h.respond(w, r, http.StatusServiceUnavailable, errorResponse{
			Code:    http.StatusServiceUnavailable,
			Message: "catalog_unavailable",
		})
	default:
		zctx.From(r.Context()).Error("internal error", zap.Error(err))
		h.respond(w, r, http.StatusInternalServerError, errorResponse{
			Code:    http.StatusInternalServerError,
			Message: "internal error",
		})
	}
}
