package overdraft

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fleetops/driver-ledger/internal/domain/ledger"
	"github.com/fleetops/driver-ledger/internal/middleware"
	"github.com/fleetops/driver-ledger/internal/pkg/errorhandler"
	"github.com/fleetops/driver-ledger/internal/pkg/response"
)

const defaultTrendDays = 7

var errorMapper = errorhandler.New("overdraft", errorhandler.BadRequest(ledger.ErrValidation))

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Summary handles GET /overdraft/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseIntParam(r, "limit", 0)
	if !ok {
		response.BadRequest(w, "limit must be an integer")
		return
	}

	report, err := h.service.Summary(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, report)
}

// Trend handles GET /overdraft/trend
func (h *Handler) Trend(w http.ResponseWriter, r *http.Request) {
	days, ok := parseIntParam(r, "days", defaultTrendDays)
	if !ok {
		response.BadRequest(w, "days must be an integer")
		return
	}
	if days < 1 || days > h.service.MaxTrendDays() {
		response.BadRequest(w, "days must be between 1 and "+strconv.Itoa(h.service.MaxTrendDays()))
		return
	}

	trend, err := h.service.Trend(r.Context(), days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, trend)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errorMapper.Write(w, r, err)
}

func parseIntParam(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Routes mounts under /overdraft. Reports cover every driver, so staff only.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireStaff())

	r.Get("/summary", h.Summary)
	r.Get("/trend", h.Trend)
	return r
}
