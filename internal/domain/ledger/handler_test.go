package ledger_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fleetops/driver-ledger/internal/domain/ledger"
	"github.com/fleetops/driver-ledger/internal/middleware"
	"github.com/fleetops/driver-ledger/internal/pkg/jwt"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
	Meta *struct {
		Count   int  `json:"count"`
		Limit   int  `json:"limit"`
		Offset  int  `json:"offset"`
		HasNext bool `json:"has_next"`
	} `json:"meta"`
}

type apiFixture struct {
	*fixture
	router  http.Handler
	manager string
	driver  uuid.UUID
	drvTok  string
}

func newAPIFixture(t *testing.T, autoProvision bool) *apiFixture {
	t.Helper()
	f := newFixture(t, autoProvision)
	jwtSvc := jwt.NewService("ledger-handler-secret", time.Hour)

	manager, err := jwtSvc.GenerateAccessToken(uuid.New(), jwt.RoleFleetManager)
	if err != nil {
		t.Fatalf("generate token failed: %v", err)
	}
	driver := uuid.New()
	drvTok, err := jwtSvc.GenerateAccessToken(driver, jwt.RoleDriver)
	if err != nil {
		t.Fatalf("generate token failed: %v", err)
	}

	h := ledger.NewHandler(f.ledger)
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/transactions", h.TransactionRoutes(middleware.Auth(jwtSvc)))
		r.Mount("/accounts", h.AccountRoutes(middleware.Auth(jwtSvc)))
	})
	return &apiFixture{fixture: f, router: r, manager: manager, driver: driver, drvTok: drvTok}
}

func (a *apiFixture) do(t *testing.T, token, method, path string, payload interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload failed: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var out apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response failed: %v; body=%s", err, rec.Body.String())
	}
	return rec, out
}

func decodeData(t *testing.T, resp apiResponse, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(resp.Data, v); err != nil {
		t.Fatalf("decode data failed: %v; data=%s", err, resp.Data)
	}
}

func TestTransactionEndpoints(t *testing.T) {
	a := newAPIFixture(t, true)
	driver := a.driver.String()

	var expenseID string

	t.Run("POST topup", func(t *testing.T) {
		rec, resp := a.do(t, a.manager, http.MethodPost, "/api/v1/transactions", map[string]interface{}{
			"driver_id":        driver,
			"amount":           10000,
			"transaction_type": "topup",
			"reference_id":     "fuel-card-load-1",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var out ledger.CreateTransactionResponse
		decodeData(t, resp, &out)
		if out.NewBalance != 10000 || out.TransactionID == uuid.Nil || out.Transaction.Direction != ledger.DirectionCredit {
			t.Fatalf("unexpected response %+v", out)
		}
	})

	t.Run("POST expense overdraws", func(t *testing.T) {
		rec, resp := a.do(t, a.manager, http.MethodPost, "/api/v1/transactions", map[string]interface{}{
			"driver_id":        driver,
			"amount":           12000,
			"transaction_type": "expense",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var out ledger.CreateTransactionResponse
		decodeData(t, resp, &out)
		if out.NewBalance != -2000 {
			t.Fatalf("expected -2000, got %d", out.NewBalance)
		}
		if out.Transaction.Type != ledger.TransactionTypeExpense {
			t.Fatalf("expected expense, got %s", out.Transaction.Type)
		}
		expenseID = out.TransactionID.String()
	})

	t.Run("POST validation", func(t *testing.T) {
		cases := []struct {
			name    string
			payload map[string]interface{}
			want    int
		}{
			{"zero amount", map[string]interface{}{"driver_id": driver, "amount": 0, "transaction_type": "expense"}, http.StatusUnprocessableEntity},
			{"unknown type", map[string]interface{}{"driver_id": driver, "amount": 5, "transaction_type": "payment"}, http.StatusUnprocessableEntity},
			{"bad driver", map[string]interface{}{"driver_id": "nope", "amount": 5, "transaction_type": "topup"}, http.StatusUnprocessableEntity},
			{"adjustment needs direction", map[string]interface{}{"driver_id": driver, "amount": 5, "transaction_type": "adjustment"}, http.StatusBadRequest},
			{"unknown field", map[string]interface{}{"driver_id": driver, "amount": 5, "transaction_type": "topup", "currency": "EUR"}, http.StatusBadRequest},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				rec, resp := a.do(t, a.manager, http.MethodPost, "/api/v1/transactions", tc.payload)
				if rec.Code != tc.want {
					t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
				}
				if resp.Success || resp.Error == nil {
					t.Fatalf("expected error envelope, got %s", rec.Body.String())
				}
			})
		}
	})

	t.Run("drivers cannot post", func(t *testing.T) {
		rec, _ := a.do(t, a.drvTok, http.MethodPost, "/api/v1/transactions", map[string]interface{}{
			"driver_id": driver, "amount": 1, "transaction_type": "topup",
		})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("GET list as driver defaults to self", func(t *testing.T) {
		rec, resp := a.do(t, a.drvTok, http.MethodGet, "/api/v1/transactions?week=current", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var items []ledger.Transaction
		decodeData(t, resp, &items)
		if len(items) != 2 || resp.Meta == nil || resp.Meta.Count != 2 {
			t.Fatalf("expected 2 items, got %d (%+v)", len(items), resp.Meta)
		}
		if items[0].DriverID != a.driver {
			t.Fatalf("unexpected driver %s", items[0].DriverID)
		}
	})

	t.Run("GET list of another driver is forbidden for drivers", func(t *testing.T) {
		rec, _ := a.do(t, a.drvTok, http.MethodGet, "/api/v1/transactions?driver_id="+uuid.NewString(), nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("GET list bad week", func(t *testing.T) {
		rec, _ := a.do(t, a.manager, http.MethodGet, "/api/v1/transactions?week=54&year=2026", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("DELETE and audit lookup", func(t *testing.T) {
		rec, resp := a.do(t, a.manager, http.MethodDelete, "/api/v1/transactions/"+expenseID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var out ledger.DeleteTransactionResponse
		decodeData(t, resp, &out)
		if out.NewBalance != 10000 {
			t.Fatalf("expected 10000 after delete, got %d", out.NewBalance)
		}

		rec, _ = a.do(t, a.manager, http.MethodDelete, "/api/v1/transactions/"+expenseID, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("second delete expected 404, got %d", rec.Code)
		}

		rec, resp = a.do(t, a.manager, http.MethodGet, "/api/v1/transactions/"+expenseID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var tx ledger.Transaction
		decodeData(t, resp, &tx)
		if tx.DeletedAt == nil {
			t.Fatal("audit lookup should expose deleted_at")
		}
	})

	t.Run("JWT required", func(t *testing.T) {
		rec, _ := a.do(t, "", http.MethodGet, "/api/v1/transactions", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 without jwt, got %d", rec.Code)
		}
	})
}

func TestAccountEndpoints(t *testing.T) {
	a := newAPIFixture(t, false)
	driver := a.driver.String()

	t.Run("unknown driver without auto-provisioning", func(t *testing.T) {
		rec, _ := a.do(t, a.manager, http.MethodPost, "/api/v1/transactions", map[string]interface{}{
			"driver_id": driver, "amount": 100, "transaction_type": "topup",
		})
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		rec, _ = a.do(t, a.manager, http.MethodGet, "/api/v1/accounts/"+driver, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("provision with limit", func(t *testing.T) {
		rec, resp := a.do(t, a.manager, http.MethodPut, "/api/v1/accounts/"+driver, map[string]interface{}{"spending_limit": 5000})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var acc ledger.AccountResponse
		decodeData(t, resp, &acc)
		if acc.SpendingLimit != 5000 || acc.CurrentBalance != 0 {
			t.Fatalf("unexpected account %+v", acc)
		}
	})

	t.Run("provision is idempotent", func(t *testing.T) {
		rec, resp := a.do(t, a.manager, http.MethodPut, "/api/v1/accounts/"+driver, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var acc ledger.AccountResponse
		decodeData(t, resp, &acc)
		if acc.SpendingLimit != 5000 {
			t.Fatalf("limit should survive re-provisioning, got %d", acc.SpendingLimit)
		}
	})

	t.Run("set spending limit", func(t *testing.T) {
		rec, _ := a.do(t, a.manager, http.MethodPut, "/api/v1/accounts/"+driver+"/spending-limit", map[string]interface{}{"spending_limit": -1})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("negative limit expected 422, got %d", rec.Code)
		}
		rec, _ = a.do(t, a.manager, http.MethodPut, "/api/v1/accounts/"+driver+"/spending-limit", map[string]interface{}{})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("missing limit expected 422, got %d", rec.Code)
		}
		rec, resp := a.do(t, a.manager, http.MethodPut, "/api/v1/accounts/"+driver+"/spending-limit", map[string]interface{}{"spending_limit": 3000})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var acc ledger.AccountResponse
		decodeData(t, resp, &acc)
		if acc.SpendingLimit != 3000 {
			t.Fatalf("expected 3000, got %d", acc.SpendingLimit)
		}
	})

	t.Run("driver reads own account only", func(t *testing.T) {
		rec, _ := a.do(t, a.drvTok, http.MethodGet, "/api/v1/accounts/"+driver, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		rec, _ = a.do(t, a.drvTok, http.MethodGet, "/api/v1/accounts/"+uuid.NewString(), nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
		rec, _ = a.do(t, a.drvTok, http.MethodPut, "/api/v1/accounts/"+driver+"/spending-limit", map[string]interface{}{"spending_limit": 999999})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("balance as of", func(t *testing.T) {
		past := a.clock.Now().Add(-48 * time.Hour)
		a.appendAt(t, a.driver, ledger.TransactionTypeTopUp, 700, past)
		a.append(t, a.driver, ledger.TransactionTypeExpense, 200)

		rec, resp := a.do(t, a.manager, http.MethodGet, "/api/v1/accounts/"+driver+"/balance?as_of="+past.Add(time.Hour).Format(time.RFC3339), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var out ledger.BalanceAsOfResponse
		decodeData(t, resp, &out)
		if out.Balance != 700 {
			t.Fatalf("expected 700 one hour after the topup, got %d", out.Balance)
		}

		rec, resp = a.do(t, a.manager, http.MethodGet, "/api/v1/accounts/"+driver+"/balance", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		decodeData(t, resp, &out)
		if out.Balance != 500 {
			t.Fatalf("expected 500 now, got %d", out.Balance)
		}

		rec, _ = a.do(t, a.manager, http.MethodGet, "/api/v1/accounts/"+driver+"/balance?as_of=yesterday", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}
