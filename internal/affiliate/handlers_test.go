package affiliate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/fashun/riskguard/internal/validation"
)

// ---------------------------------------------------------------------------
// Test router setup
// ---------------------------------------------------------------------------

func setupHandlerTestRouter(t *testing.T, risk RiskChecker) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if err := validation.Register(); err != nil {
		t.Fatalf("register validators: %v", err)
	}

	svc, _ := newTestService(risk)
	handler := NewHandler(svc)

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)
	handler.RegisterAdminRoutes(v1.Group(""))
	return r, svc
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to parse response: %v (%s)", err, w.Body.String())
	}
	return v
}

// ---------------------------------------------------------------------------
// Full referral flow
// ---------------------------------------------------------------------------

func TestHandler_ReferralFlow(t *testing.T) {
	router, _ := setupHandlerTestRouter(t, nil)

	w := doJSON(router, "POST", "/v1/affiliates", map[string]any{"userId": "user_1", "commissionRate": 1000})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	aff := decode[struct{ Affiliate Affiliate }](t, w).Affiliate
	if aff.ReferralCode == "" {
		t.Fatal("Expected a referral code")
	}

	w = doJSON(router, "POST", "/v1/referrals/click", map[string]any{
		"referralCode": aff.ReferralCode,
		"visitorId":    "visitor_1",
		"landingUrl":   "https://fashun.shop/new",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for click, got %d: %s", w.Code, w.Body.String())
	}
	ref := decode[struct{ Referral Referral }](t, w).Referral
	if ref.IPAddress == "" {
		t.Error("Expected client IP to be captured")
	}

	w = doJSON(router, "POST", "/v1/referrals/"+ref.ID+"/convert", map[string]any{"orderId": "ord_100", "amountCents": 15000})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for conversion, got %d: %s", w.Code, w.Body.String())
	}
	com := decode[struct{ Commission Commission }](t, w).Commission
	if com.CommissionCents != 1500 || com.Status != CommissionPending {
		t.Errorf("Unexpected commission %+v", com)
	}

	if w := doJSON(router, "POST", "/v1/referrals/"+ref.ID+"/convert", map[string]any{"orderId": "ord_101", "amountCents": 100}); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for second conversion, got %d", w.Code)
	}

	if w := doJSON(router, "POST", "/v1/commissions/"+com.ID+"/pay", nil); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 paying a pending commission, got %d", w.Code)
	}
	if w := doJSON(router, "POST", "/v1/commissions/"+com.ID+"/approve", nil); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 approving, got %d: %s", w.Code, w.Body.String())
	}
	if w := doJSON(router, "POST", "/v1/commissions/"+com.ID+"/pay", nil); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 paying, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, "GET", "/v1/affiliates/"+aff.ID+"/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for stats, got %d", w.Code)
	}
	st := decode[struct{ Stats Stats }](t, w).Stats
	if st.Clicks != 1 || st.Conversions != 1 || st.PaidCents != 1500 || st.TotalEarningsCents != 1500 {
		t.Errorf("Unexpected stats %+v", st)
	}

	w = doJSON(router, "GET", "/v1/affiliates/"+aff.ID+"/commissions", nil)
	list := decode[struct {
		Commissions []Commission `json:"commissions"`
		Count       int          `json:"count"`
	}](t, w)
	if list.Count != 1 {
		t.Errorf("Expected 1 commission, got %d", list.Count)
	}
}

func TestHandler_ListCommissions_Paging(t *testing.T) {
	router, svc := setupHandlerTestRouter(t, nil)
	ctx := context.Background()

	aff := enroll(t, svc, "user_pages", 1000)
	for i := 0; i < 5; i++ {
		ref := click(t, svc, aff.ReferralCode)
		_, err := svc.RecordConversion(ctx, ref.ID, fmt.Sprintf("ord_page_%d", i), 1000)
		if err != nil {
			t.Fatalf("convert: %v", err)
		}
	}

	type page struct {
		Commissions []Commission `json:"commissions"`
		NextCursor  string       `json:"nextCursor"`
		HasMore     bool         `json:"hasMore"`
	}

	seen := map[string]bool{}
	cursor := ""
	for pages := 0; ; pages++ {
		if pages > 3 {
			t.Fatal("Paging did not terminate")
		}
		w := doJSON(router, "GET", "/v1/affiliates/"+aff.ID+"/commissions?limit=2&cursor="+cursor, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		p := decode[page](t, w)
		for _, c := range p.Commissions {
			if seen[c.ID] {
				t.Errorf("Commission %s returned twice", c.ID)
			}
			seen[c.ID] = true
		}
		if !p.HasMore {
			break
		}
		cursor = p.NextCursor
	}
	if len(seen) != 5 {
		t.Errorf("Expected 5 commissions across pages, got %d", len(seen))
	}

	w := doJSON(router, "GET", "/v1/affiliates/"+aff.ID+"/commissions?cursor=bad!", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad cursor, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

func TestHandler_CreateAffiliate_Errors(t *testing.T) {
	router, _ := setupHandlerTestRouter(t, nil)

	if w := doJSON(router, "POST", "/v1/affiliates", map[string]any{"userId": "u", "commissionRate": 9000}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for rate above 5000, got %d", w.Code)
	}
	if w := doJSON(router, "POST", "/v1/affiliates", map[string]any{"commissionRate": 100}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing userId, got %d", w.Code)
	}
	doJSON(router, "POST", "/v1/affiliates", map[string]any{"userId": "dup", "commissionRate": 100})
	w := doJSON(router, "POST", "/v1/affiliates", map[string]any{"userId": "dup", "commissionRate": 100})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate user, got %d", w.Code)
	}
	if resp := decode[map[string]any](t, w); resp["error"] != "already_exists" {
		t.Errorf("Expected already_exists, got %v", resp["error"])
	}
}

func TestHandler_NotFound(t *testing.T) {
	router, _ := setupHandlerTestRouter(t, nil)

	paths := []struct{ method, path string }{
		{"GET", "/v1/affiliates/aff_missing"},
		{"GET", "/v1/affiliates/aff_missing/stats"},
		{"GET", "/v1/affiliates/aff_missing/commissions"},
		{"POST", "/v1/commissions/com_missing/approve"},
	}
	for _, p := range paths {
		if w := doJSON(router, p.method, p.path, nil); w.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", p.method, p.path, w.Code)
		}
	}

	w := doJSON(router, "POST", "/v1/referrals/click", map[string]any{"referralCode": "UNKNOWN1"})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown code, got %d", w.Code)
	}
}

func TestHandler_SuspendBlocksClicks(t *testing.T) {
	router, svc := setupHandlerTestRouter(t, nil)
	aff := enroll(t, svc, "user_s", 100)

	if w := doJSON(router, "PUT", "/v1/affiliates/"+aff.ID+"/status", map[string]any{"status": "banned"}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown status, got %d", w.Code)
	}
	if w := doJSON(router, "PUT", "/v1/affiliates/"+aff.ID+"/status", map[string]any{"status": "suspended"}); w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w := doJSON(router, "POST", "/v1/referrals/click", map[string]any{"referralCode": aff.ReferralCode})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for suspended affiliate, got %d", w.Code)
	}
}

func TestHandler_DeclinedOrderCommission(t *testing.T) {
	router, svc := setupHandlerTestRouter(t, &fakeRisk{declined: map[string]string{"ord_bad": "fraud risk 88 (critical)"}})
	aff := enroll(t, svc, "user_r", 1000)
	ref := click(t, svc, aff.ReferralCode)

	w := doJSON(router, "POST", "/v1/referrals/"+ref.ID+"/convert", map[string]any{"orderId": "ord_bad", "amountCents": 5000})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	com := decode[struct{ Commission Commission }](t, w).Commission
	if com.Status != CommissionRejected || com.Reason == "" {
		t.Errorf("Expected rejected commission with reason, got %+v", com)
	}
}

func TestHandler_ConvertRejectsOversizedAmount(t *testing.T) {
	router, svc := setupHandlerTestRouter(t, nil)
	aff := enroll(t, svc, "user_big", MaxRateBps)
	ref := click(t, svc, aff.ReferralCode)

	w := doJSON(router, "POST", "/v1/referrals/"+ref.ID+"/convert", map[string]any{"orderId": "ord_big", "amountCents": int64(2_000_000_000_000_000)})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for oversized amount, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, "POST", "/v1/referrals/"+ref.ID+"/convert", map[string]any{"orderId": "ord_max", "amountCents": MaxOrderAmountCents})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 at the order limit, got %d: %s", w.Code, w.Body.String())
	}
	com := decode[struct{ Commission Commission }](t, w).Commission
	if com.CommissionCents != MaxOrderAmountCents/2 {
		t.Errorf("Expected commission %d, got %d", MaxOrderAmountCents/2, com.CommissionCents)
	}
}
