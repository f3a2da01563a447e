// Package overdraft derives overdraft severity, system summaries and daily
// trends from the spending ledger. Everything here is read-only.
package overdraft

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fleetops/driver-ledger/internal/domain/ledger"
	"github.com/fleetops/driver-ledger/internal/domain/period"
	"github.com/fleetops/driver-ledger/internal/pkg/logger"
	"github.com/fleetops/driver-ledger/internal/pkg/metrics"
)

const (
	DefaultRankingLimit = 10
	MaxRankingLimit     = 100

	weeklyWindow = 7 * 24 * time.Hour
	dailyWindow  = 24 * time.Hour
)

type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Classify returns the overdraft amount and severity for a balance. Critical
// means the overdraft exceeds half the spending limit. For a non-negative
// limit, o > l/2 with integer division is exactly o > l*0.5.
func Classify(balance, spendingLimit int64) (int64, Severity) {
	if balance >= 0 {
		return 0, SeverityNone
	}
	overdraft := -balance
	if overdraft > spendingLimit/2 {
		return overdraft, SeverityCritical
	}
	return overdraft, SeverityWarning
}

// DriverStatus is one account's position.
type DriverStatus struct {
	DriverID        uuid.UUID `json:"driver_id"`
	CurrentBalance  int64     `json:"current_balance"`
	SpendingLimit   int64     `json:"spending_limit"`
	OverdraftAmount int64     `json:"overdraft_amount"`
	IsOverdrawn     bool      `json:"is_overdrawn"`
	Severity        Severity  `json:"severity"`
	WeeklyExpenses  int64     `json:"weekly_expenses"`
	DailyExpenses   int64     `json:"daily_expenses"`
	// Partial is set when the expense totals could not be computed.
	Partial bool `json:"partial,omitempty"`
}

type Summary struct {
	TotalSystemOverdraft  int64     `json:"total_system_overdraft"`
	TotalDriversOverdrawn int       `json:"total_drivers_overdrawn"`
	CriticalCases         int       `json:"critical_cases"`
	AverageOverdraft      float64   `json:"average_overdraft"`
	TotalDrivers          int       `json:"total_drivers"`
	GeneratedAt           time.Time `json:"generated_at"`
}

type Report struct {
	Summary          Summary        `json:"summary"`
	OverdrawnDrivers []DriverStatus `json:"overdrawn_drivers"`
	AllDriversStatus []DriverStatus `json:"all_drivers_status"`
	Partial          bool           `json:"partial"`
	Warnings         int            `json:"warnings"`
}

// AccountSource is the read side of ledger.Store the analyzer needs.
type AccountSource interface {
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
	SumActiveDebits(ctx context.Context, driverID uuid.UUID, from, to time.Time) (int64, error)
}

type Analyzer struct {
	source  AccountSource
	periods *period.Classifier
}

func NewAnalyzer(source AccountSource, periods *period.Classifier) *Analyzer {
	return &Analyzer{source: source, periods: periods}
}

// NormalizeLimit applies the ranking default and rejects out-of-range values.
func NormalizeLimit(limit int) (int, error) {
	if limit == 0 {
		return DefaultRankingLimit, nil
	}
	if limit < 0 || limit > MaxRankingLimit {
		return 0, ErrInvalidLimit
	}
	return limit, nil
}

// Summary computes the system report from cached balances. Expense-total
// failures for a driver degrade that driver's row instead of failing the report.
func (a *Analyzer) Summary(ctx context.Context, limit int) (*Report, error) {
	limit, err := NormalizeLimit(limit)
	if err != nil {
		return nil, err
	}

	accounts, err := a.source.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	now := a.periods.Now()
	report := &Report{
		OverdrawnDrivers: []DriverStatus{},
		AllDriversStatus: make([]DriverStatus, 0, len(accounts)),
	}
	report.Summary.GeneratedAt = now.UTC()
	report.Summary.TotalDrivers = len(accounts)

	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		status := a.status(ctx, acc, now)
		if status.Partial {
			report.Partial = true
			report.Warnings++
		}

		if status.IsOverdrawn {
			report.Summary.TotalSystemOverdraft += status.OverdraftAmount
			report.Summary.TotalDriversOverdrawn++
			report.OverdrawnDrivers = append(report.OverdrawnDrivers, status)
		}
		if status.Severity == SeverityCritical {
			report.Summary.CriticalCases++
		}
		report.AllDriversStatus = append(report.AllDriversStatus, status)
	}

	if n := report.Summary.TotalDriversOverdrawn; n > 0 {
		report.Summary.AverageOverdraft = float64(report.Summary.TotalSystemOverdraft) / float64(n)
	}

	sortByOverdraft(report.OverdrawnDrivers)
	if len(report.OverdrawnDrivers) > limit {
		report.OverdrawnDrivers = report.OverdrawnDrivers[:limit]
	}
	return report, nil
}

func (a *Analyzer) status(ctx context.Context, acc ledger.Account, now time.Time) DriverStatus {
	overdraft, severity := Classify(acc.CurrentBalance, acc.SpendingLimit)
	status := DriverStatus{
		DriverID:        acc.DriverID,
		CurrentBalance:  acc.CurrentBalance,
		SpendingLimit:   acc.SpendingLimit,
		OverdraftAmount: overdraft,
		IsOverdrawn:     acc.CurrentBalance < 0,
		Severity:        severity,
	}

	weekly, werr := a.source.SumActiveDebits(ctx, acc.DriverID, now.Add(-weeklyWindow), now)
	daily, derr := a.source.SumActiveDebits(ctx, acc.DriverID, now.Add(-dailyWindow), now)
	if err := errors.Join(werr, derr); err != nil {
		status.Partial = true
		metrics.AggregationWarnings.WithLabelValues("summary").Inc()
		logger.FromContext(ctx).Warn().Err(err).
			Str("driver_id", acc.DriverID.String()).
			Msg("expense totals unavailable, reporting partial status")
	}
	if werr == nil {
		status.WeeklyExpenses = weekly
	}
	if derr == nil {
		status.DailyExpenses = daily
	}
	return status
}

// sortByOverdraft orders by overdraft descending; equal amounts fall back to
// driver id so rankings are stable across calls.
func sortByOverdraft(s []DriverStatus) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].OverdraftAmount != s[j].OverdraftAmount {
			return s[i].OverdraftAmount > s[j].OverdraftAmount
		}
		return s[i].DriverID.String() < s[j].DriverID.String()
	})
}
