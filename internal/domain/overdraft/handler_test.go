package overdraft_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fleetops/driver-ledger/internal/domain/ledger"
	"github.com/fleetops/driver-ledger/internal/domain/overdraft"
	"github.com/fleetops/driver-ledger/internal/middleware"
	"github.com/fleetops/driver-ledger/internal/pkg/jwt"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newRouter(t *testing.T, f *fixture) (http.Handler, string, string) {
	t.Helper()
	jwtSvc := jwt.NewService("overdraft-handler-secret", time.Hour)
	admin, err := jwtSvc.GenerateAccessToken(uuid.New(), jwt.RoleAdmin)
	if err != nil {
		t.Fatalf("generate token failed: %v", err)
	}
	driver, err := jwtSvc.GenerateAccessToken(uuid.New(), jwt.RoleDriver)
	if err != nil {
		t.Fatalf("generate token failed: %v", err)
	}

	h := overdraft.NewHandler(f.service)
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/overdraft", h.Routes(middleware.Auth(jwtSvc)))
	})
	return r, admin, driver
}

func get(t *testing.T, router http.Handler, token, path string) (int, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var resp apiResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response failed: %v (%s)", err, rr.Body.String())
	}
	return rr.Code, resp
}

func TestOverdraftEndpoints(t *testing.T) {
	f := newFixture(t)
	a := f.provision(t, 3000)
	b := f.provision(t, 3000)
	f.post(t, a, ledger.TransactionTypeExpense, 2000, nil)
	f.post(t, b, ledger.TransactionTypeExpense, 500, f.daysAgo(3))
	router, admin, driver := newRouter(t, f)

	t.Run("summary", func(t *testing.T) {
		code, resp := get(t, router, admin, "/api/v1/overdraft/summary")
		if code != http.StatusOK || !resp.Success {
			t.Fatalf("expected 200, got %d", code)
		}
		var report overdraft.Report
		if err := json.Unmarshal(resp.Data, &report); err != nil {
			t.Fatalf("decode report failed: %v", err)
		}
		if report.Summary.AverageOverdraft != 1250 || report.Summary.TotalDriversOverdrawn != 2 {
			t.Fatalf("unexpected summary %+v", report.Summary)
		}
		if report.OverdrawnDrivers[0].DriverID != a {
			t.Fatal("largest overdraft must rank first")
		}
	})

	t.Run("summary limit", func(t *testing.T) {
		code, resp := get(t, router, admin, "/api/v1/overdraft/summary?limit=1")
		if code != http.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
		var report overdraft.Report
		if err := json.Unmarshal(resp.Data, &report); err != nil {
			t.Fatalf("decode report failed: %v", err)
		}
		if len(report.OverdrawnDrivers) != 1 || len(report.AllDriversStatus) != 2 {
			t.Fatalf("unexpected sizes %d/%d", len(report.OverdrawnDrivers), len(report.AllDriversStatus))
		}
	})

	t.Run("trend default days", func(t *testing.T) {
		code, resp := get(t, router, admin, "/api/v1/overdraft/trend")
		if code != http.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
		var trend overdraft.Trend
		if err := json.Unmarshal(resp.Data, &trend); err != nil {
			t.Fatalf("decode trend failed: %v", err)
		}
		if trend.PeriodDays != 7 || len(trend.Data) != 8 {
			t.Fatalf("unexpected trend shape period=%d points=%d", trend.PeriodDays, len(trend.Data))
		}
		if trend.Data[4].TotalSystemOverdraft != 500 || trend.Data[7].TotalSystemOverdraft != 2500 {
			t.Fatalf("unexpected trend %+v", trend.Data)
		}
	})

	rejections := []struct {
		name  string
		token string
		path  string
		code  int
	}{
		{"no token", "", "/api/v1/overdraft/summary", http.StatusUnauthorized},
		{"driver summary", driver, "/api/v1/overdraft/summary", http.StatusForbidden},
		{"driver trend", driver, "/api/v1/overdraft/trend", http.StatusForbidden},
		{"limit not a number", admin, "/api/v1/overdraft/summary?limit=ten", http.StatusBadRequest},
		{"limit too large", admin, "/api/v1/overdraft/summary?limit=101", http.StatusBadRequest},
		{"days not a number", admin, "/api/v1/overdraft/trend?days=week", http.StatusBadRequest},
		{"days zero", admin, "/api/v1/overdraft/trend?days=0", http.StatusBadRequest},
		{"days too large", admin, "/api/v1/overdraft/trend?days=365", http.StatusBadRequest},
	}
	for _, tc := range rejections {
		t.Run(tc.name, func(t *testing.T) {
			code, resp := get(t, router, tc.token, tc.path)
			if code != tc.code || resp.Success {
				t.Fatalf("expected %d, got %d", tc.code, code)
			}
		})
	}
}
