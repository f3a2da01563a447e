// Package errorhandler maps domain errors to HTTP error responses and logs
// the ones the client cannot act on.
package errorhandler

import (
	"errors"
	"net/http"

	"github.com/fleetops/driver-ledger/internal/pkg/logger"
	"github.com/fleetops/driver-ledger/internal/pkg/response"
)

// Rule maps every error matching Target (errors.Is) to a response. An empty
// Message echoes err.Error(), which suits validation errors.
type Rule struct {
	Target  error
	Status  int
	Code    string
	Message string
}

// Mapper writes the first matching rule. Unmatched errors are logged with the
// request context and answered with a generic 500.
type Mapper struct {
	scope string
	rules []Rule
}

func New(scope string, rules ...Rule) *Mapper {
	return &Mapper{scope: scope, rules: rules}
}

func BadRequest(target error) Rule {
	return Rule{Target: target, Status: http.StatusBadRequest, Code: "BAD_REQUEST"}
}

func NotFound(target error, message string) Rule {
	return Rule{Target: target, Status: http.StatusNotFound, Code: "NOT_FOUND", Message: message}
}

// Conflict marks a retryable lost race.
func Conflict(target error, message string) Rule {
	return Rule{Target: target, Status: http.StatusConflict, Code: "CONFLICT", Message: message}
}

func (m *Mapper) Write(w http.ResponseWriter, r *http.Request, err error) {
	for _, rule := range m.rules {
		if errors.Is(err, rule.Target) {
			msg := rule.Message
			if msg == "" {
				msg = err.Error()
			}
			if rule.Status == http.StatusConflict {
				logger.FromContext(r.Context()).Warn().Err(err).Str("scope", m.scope).Msg("Request lost a write race")
			}
			response.Error(w, rule.Status, rule.Code, msg)
			return
		}
	}

	ctx := r.Context()
	if ctx.Err() != nil {
		// Client went away; nobody reads the response.
		logger.FromContext(ctx).Debug().Err(err).Str("scope", m.scope).Msg("Request cancelled")
		return
	}

	logger.FromContext(ctx).Error().Err(err).
		Str("scope", m.scope).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("Request failed")
	response.InternalError(w)
}
