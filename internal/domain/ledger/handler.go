package ledger

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fleetops/driver-ledger/internal/domain/period"
	"github.com/fleetops/driver-ledger/internal/middleware"
	"github.com/fleetops/driver-ledger/internal/pkg/errorhandler"
	"github.com/fleetops/driver-ledger/internal/pkg/response"
	"github.com/fleetops/driver-ledger/internal/pkg/validator"
)

const maxPageLimit = 1000

var errorMapper = errorhandler.New("ledger",
	errorhandler.BadRequest(ErrValidation),
	errorhandler.BadRequest(period.ErrInvalidFilter),
	errorhandler.NotFound(ErrAccountNotFound, "Spending account not found"),
	errorhandler.NotFound(ErrTransactionNotFound, "Transaction not found"),
	errorhandler.Conflict(ErrConflict, "Concurrent modification, please retry"),
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(l *Ledger) *Handler {
	return &Handler{ledger: l}
}

// CreateTransaction handles POST /transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	in, err := req.toInput()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	receipt, err := h.ledger.Append(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.Created(w, CreateTransactionResponse{
		TransactionID: receipt.Transaction.ID,
		NewBalance:    receipt.NewBalance,
		Transaction:   receipt.Transaction,
	})
}

// ListTransactions handles GET /transactions. Drivers only see their own rows.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var driverID *uuid.UUID
	if raw := q.Get("driver_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(w, "Invalid driver_id")
			return
		}
		driverID = &id
	}
	if !middleware.IsStaff(r.Context()) {
		self := middleware.GetUserID(r.Context())
		if driverID == nil {
			driverID = &self
		}
		if !middleware.CanAccessDriver(r.Context(), *driverID) {
			response.Forbidden(w, "Drivers may only list their own transactions")
			return
		}
	}

	filter, err := h.ledger.periods.ParseFilter(q.Get("week"), q.Get("year"))
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	limit, ok := parseNonNegative(q.Get("limit"))
	if !ok || limit > maxPageLimit {
		response.BadRequest(w, "limit must be between 0 and "+strconv.Itoa(maxPageLimit))
		return
	}
	offset, ok := parseNonNegative(q.Get("offset"))
	if !ok {
		response.BadRequest(w, "offset must not be negative")
		return
	}

	items, err := h.ledger.Query(r.Context(), QueryInput{
		DriverID: driverID,
		Filter:   filter,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if items == nil {
		items = []Transaction{}
	}
	effective := h.ledger.periods.Resolve(filter).Limit(limit)
	response.WithMeta(w, items, response.PageMeta(len(items), effective, offset))
}

// GetTransaction handles GET /transactions/{id}. Soft-deleted rows are returned
// with deleted_at set.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid transaction id")
		return
	}

	tx, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, tx)
}

// DeleteTransaction handles DELETE /transactions/{id}
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid transaction id")
		return
	}

	receipt, err := h.ledger.SoftDelete(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, DeleteTransactionResponse{TransactionID: id, NewBalance: receipt.NewBalance})
}

// GetAccount handles GET /accounts/{driver_id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	driverID, ok := h.driverParam(w, r)
	if !ok {
		return
	}
	if !middleware.CanAccessDriver(r.Context(), driverID) {
		response.Forbidden(w, "Drivers may only view their own account")
		return
	}

	acc, err := h.ledger.Accounts().Get(r.Context(), driverID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, AccountResponseFromEntity(acc))
}

// ProvisionAccount handles PUT /accounts/{driver_id}
func (h *Handler) ProvisionAccount(w http.ResponseWriter, r *http.Request) {
	driverID, ok := h.driverParam(w, r)
	if !ok {
		return
	}

	var req ProvisionAccountRequest
	if r.ContentLength != 0 {
		if err := response.DecodeJSON(r.Body, &req); err != nil {
			response.BadRequest(w, "Invalid JSON body")
			return
		}
		if errs := validator.Validate(req); errs != nil {
			response.ValidationError(w, errs)
			return
		}
	}

	acc, err := h.ledger.Accounts().Provision(r.Context(), driverID, req.SpendingLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, AccountResponseFromEntity(acc))
}

// SetSpendingLimit handles PUT /accounts/{driver_id}/spending-limit
func (h *Handler) SetSpendingLimit(w http.ResponseWriter, r *http.Request) {
	driverID, ok := h.driverParam(w, r)
	if !ok {
		return
	}

	var req SpendingLimitRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	if err := h.ledger.Accounts().SetSpendingLimit(r.Context(), driverID, *req.SpendingLimit); err != nil {
		h.writeError(w, r, err)
		return
	}
	acc, err := h.ledger.Accounts().Get(r.Context(), driverID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, AccountResponseFromEntity(acc))
}

// BalanceAsOf handles GET /accounts/{driver_id}/balance?as_of=RFC3339
func (h *Handler) BalanceAsOf(w http.ResponseWriter, r *http.Request) {
	driverID, ok := h.driverParam(w, r)
	if !ok {
		return
	}

	asOf := h.ledger.periods.Now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.BadRequest(w, "as_of must be an RFC3339 timestamp")
			return
		}
		asOf = t
	}

	balance, err := h.ledger.Balances().ReconstructBalanceAsOf(r.Context(), driverID, asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, BalanceAsOfResponse{DriverID: driverID, AsOf: asOf, Balance: balance})
}

func (h *Handler) driverParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "driver_id"))
	if err != nil || id == uuid.Nil {
		response.BadRequest(w, "Invalid driver_id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errorMapper.Write(w, r, err)
}

func parseNonNegative(raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// TransactionRoutes mounts under /transactions.
func (h *Handler) TransactionRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.ListTransactions)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireStaff())
		r.Post("/", h.CreateTransaction)
		r.Get("/{id}", h.GetTransaction)
		r.Delete("/{id}", h.DeleteTransaction)
	})
	return r
}

// AccountRoutes mounts under /accounts.
func (h *Handler) AccountRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/{driver_id}", h.GetAccount)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireStaff())
		r.Put("/{driver_id}", h.ProvisionAccount)
		r.Put("/{driver_id}/spending-limit", h.SetSpendingLimit)
		r.Get("/{driver_id}/balance", h.BalanceAsOf)
	})
	return r
}
