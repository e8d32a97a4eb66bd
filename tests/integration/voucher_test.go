//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestListVouchers_All(t *testing.T) {
	resp := doGet(t, "/api/v1/vouchers")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	vouchers := decodeJSON[[]voucherResponse](t, resp)
	if len(vouchers) != 4 {
		t.Fatalf("expected 4 vouchers, got %d", len(vouchers))
	}

	byID := make(map[string]voucherResponse, len(vouchers))
	for _, v := range vouchers {
		byID[v.ID] = v
	}

	welcome, ok := byID["WELCOME20"]
	if !ok {
		t.Fatal("WELCOME20 not in catalog")
	}
	if welcome.Category != "discount" || welcome.DiscountKind != "fixed" || welcome.DiscountValue != 20000 {
		t.Errorf("WELCOME20 definition mismatch: %+v", welcome)
	}

	ship, ok := byID["FREESHIP15"]
	if !ok {
		t.Fatal("FREESHIP15 not in catalog")
	}
	if ship.Category != "shipping" || ship.ShippingDiscountValue != 15000 {
		t.Errorf("FREESHIP15 definition mismatch: %+v", ship)
	}
}

func TestListVouchers_FilterByOrderValue(t *testing.T) {
	resp := doGet(t, "/api/v1/vouchers?min_order_value=150000")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	vouchers := decodeJSON[[]voucherResponse](t, resp)
	for _, v := range vouchers {
		if v.MinOrderValue > 150000 {
			t.Errorf("voucher %s requires %d, above the order value filter", v.ID, v.MinOrderValue)
		}
	}
	// WELCOME20 (100k) and FREESHIP15 (0) qualify; SAVE20PCT and SHIP30K do not.
	if len(vouchers) != 2 {
		t.Errorf("expected 2 affordable vouchers, got %d", len(vouchers))
	}
}

func TestListVouchers_FilterByCategory(t *testing.T) {
	resp := doGet(t, "/api/v1/vouchers?category=shipping")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	vouchers := decodeJSON[[]voucherResponse](t, resp)
	if len(vouchers) != 2 {
		t.Fatalf("expected 2 shipping vouchers, got %d", len(vouchers))
	}
	for _, v := range vouchers {
		if v.Category != "shipping" {
			t.Errorf("voucher %s has category %q", v.ID, v.Category)
		}
	}
}

func TestListVouchers_UnknownCategory(t *testing.T) {
	resp := doGet(t, "/api/v1/vouchers?category=loyalty")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestValidateVoucher_Eligible(t *testing.T) {
	resp := doPost(t, "/api/v1/vouchers/validate", validateRequest{
		VoucherID:    "WELCOME20",
		UserID:       "validate-user-1",
		OrderValue:   300000,
		ShippingCost: 30000,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON[validateResponse](t, resp)
	if !body.Valid {
		t.Fatalf("expected valid, got message %q", body.Message)
	}
	if body.DiscountAmount != 20000 {
		t.Errorf("discount: got %d, want 20000", body.DiscountAmount)
	}
	if body.FinalAmount != 310000 {
		t.Errorf("final: got %d, want 310000", body.FinalAmount)
	}
}

func TestValidateVoucher_PercentageCap(t *testing.T) {
	resp := doPost(t, "/api/v1/vouchers/validate", validateRequest{
		VoucherID:  "SAVE20PCT",
		UserID:     "validate-user-2",
		OrderValue: 500000,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON[validateResponse](t, resp)
	if !body.Valid {
		t.Fatalf("expected valid, got message %q", body.Message)
	}
	// 20% of 500,000 is 100,000, capped at 50,000.
	if body.DiscountAmount != 50000 {
		t.Errorf("discount: got %d, want 50000", body.DiscountAmount)
	}
}

func TestValidateVoucher_MinOrderNotMet(t *testing.T) {
	resp := doPost(t, "/api/v1/vouchers/validate", validateRequest{
		VoucherID:  "WELCOME20",
		UserID:     "validate-user-3",
		OrderValue: 50000,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON[validateResponse](t, resp)
	if body.Valid {
		t.Fatal("expected invalid")
	}
	if body.Message != "min_order_not_met" {
		t.Errorf("message: got %q, want min_order_not_met", body.Message)
	}
}

func TestValidateVoucher_Unknown(t *testing.T) {
	resp := doPost(t, "/api/v1/vouchers/validate", validateRequest{
		VoucherID:  "DOES-NOT-EXIST",
		UserID:     "validate-user-4",
		OrderValue: 300000,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON[validateResponse](t, resp)
	if body.Valid {
		t.Fatal("expected invalid")
	}
	if body.Message != "voucher_unavailable" {
		t.Errorf("message: got %q, want voucher_unavailable", body.Message)
	}
}

func TestValidateVoucher_MissingUserID(t *testing.T) {
	resp := doPost(t, "/api/v1/vouchers/validate", map[string]any{
		"voucher_id":  "WELCOME20",
		"order_value": 300000,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	body := decodeJSON[errorResponse](t, resp)
	if body.Code != http.StatusBadRequest {
		t.Errorf("error code: got %d, want 400", body.Code)
	}
}

func TestValidateMultiple_BothLegs(t *testing.T) {
	resp := doPost(t, "/api/v1/vouchers/validate-multiple", multiRequest{
		Vouchers: []candidate{
			{VoucherID: "WELCOME20", Category: "discount"},
			{VoucherID: "FREESHIP15", Category: "shipping"},
		},
		UserID:       "multi-user-1",
		OrderValue:   300000,
		ShippingCost: 30000,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON[multiValidateResponse](t, resp)
	if body.Summary.TotalDiscount != 35000 {
		t.Errorf("total discount: got %d, want 35000", body.Summary.TotalDiscount)
	}
	if body.Summary.FinalAmount != 295000 {
		t.Errorf("final amount: got %d, want 295000", body.Summary.FinalAmount)
	}
	if body.Summary.VouchersApplied != 2 {
		t.Errorf("applied: got %d, want 2", body.Summary.VouchersApplied)
	}
}

func TestValidateMultiple_PartialFailure(t *testing.T) {
	resp := doPost(t, "/api/v1/vouchers/validate-multiple", multiRequest{
		Vouchers: []candidate{
			{VoucherID: "SAVE20PCT", Category: "discount"},
			{VoucherID: "FREESHIP15", Category: "shipping"},
		},
		UserID:       "multi-user-2",
		OrderValue:   150000,
		ShippingCost: 30000,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON[multiValidateResponse](t, resp)
	if body.Message != "partial_validation_failure" {
		t.Errorf("message: got %q, want partial_validation_failure", body.Message)
	}
	if body.Summary.VouchersApplied != 1 {
		t.Errorf("applied: got %d, want 1", body.Summary.VouchersApplied)
	}
	if len(body.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(body.Results))
	}
	if body.Results[0].Valid || body.Results[0].Reason != "min_order_not_met" {
		t.Errorf("first result: %+v", body.Results[0])
	}
	if !body.Results[1].Valid {
		t.Errorf("second result: %+v", body.Results[1])
	}
}

func TestValidateMultiple_CategoryConflict(t *testing.T) {
	resp := doPost(t, "/api/v1/vouchers/validate-multiple", multiRequest{
		Vouchers: []candidate{
			{VoucherID: "WELCOME20", Category: "discount"},
			{VoucherID: "SAVE20PCT", Category: "discount"},
		},
		UserID:     "multi-user-3",
		OrderValue: 300000,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	body := decodeJSON[errorResponse](t, resp)
	if body.Message != "category_conflict" {
		t.Errorf("message: got %q, want category_conflict", body.Message)
	}
}
