package overdraft

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fleetops/driver-ledger/internal/domain/ledger"
	"github.com/fleetops/driver-ledger/internal/domain/period"
	"github.com/fleetops/driver-ledger/internal/pkg/logger"
	"github.com/fleetops/driver-ledger/internal/pkg/metrics"
)

const dateLayout = "2006-01-02"

// TrendPoint is the system position at the end of one calendar day.
type TrendPoint struct {
	Date                 string `json:"date"`
	TotalSystemOverdraft int64  `json:"total_system_overdraft"`
	DriversOverdrawn     int    `json:"drivers_overdrawn"`
	CriticalDrivers      int    `json:"critical_drivers"`
	// Partial is set when some driver's balance could not be replayed.
	Partial bool `json:"partial,omitempty"`
}

type Trend struct {
	PeriodDays  int          `json:"period_days"`
	Data        []TrendPoint `json:"data"`
	Partial     bool         `json:"partial"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// AccountLister is satisfied by ledger.Store.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
}

// Replayer is satisfied by ledger.BalanceEngine.
type Replayer interface {
	ReconstructBalanceAsOf(ctx context.Context, driverID uuid.UUID, asOf time.Time) (int64, error)
}

type TrendAggregator struct {
	accounts AccountLister
	replay   Replayer
	periods  *period.Classifier
	maxDays  int
	workers  int
}

func NewTrendAggregator(accounts AccountLister, replay Replayer, periods *period.Classifier, maxDays, workers int) *TrendAggregator {
	if maxDays < 1 {
		maxDays = 90
	}
	if workers < 1 {
		workers = 1
	}
	return &TrendAggregator{accounts: accounts, replay: replay, periods: periods, maxDays: maxDays, workers: workers}
}

func (a *TrendAggregator) MaxDays() int { return a.maxDays }

// DailySeries returns days+1 points, oldest first, from today-days to today.
// Past days are replayed at their last instant and today at now. Balances
// always come from a ledger replay, never from the cached balance, so
// backdated transactions land in the day they are dated.
//
// Spending limits are not versioned; the current limit is used for every day.
func (a *TrendAggregator) DailySeries(ctx context.Context, days int) (*Trend, error) {
	if days < 1 || days > a.maxDays {
		return nil, ErrInvalidDays
	}

	accounts, err := a.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	now := a.periods.Now()
	today := a.periods.DayStart(now)
	points := make([]TrendPoint, days+1)
	var partial atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i := 0; i <= days; i++ {
		day := today.AddDate(0, 0, i-days)
		asOf := a.periods.DayEnd(day)
		if i == days {
			asOf = now
		}
		i := i
		g.Go(func() error {
			p, err := a.point(gctx, accounts, day, asOf)
			if err != nil {
				return err
			}
			if p.Partial {
				partial.Store(true)
			}
			points[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Trend{
		PeriodDays:  days,
		Data:        points,
		Partial:     partial.Load(),
		GeneratedAt: now.UTC(),
	}, nil
}

// point evaluates every account at asOf. Only cancellation aborts it; any
// other per-driver failure marks the point partial.
func (a *TrendAggregator) point(ctx context.Context, accounts []ledger.Account, day, asOf time.Time) (TrendPoint, error) {
	p := TrendPoint{Date: day.Format(dateLayout)}
	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			return TrendPoint{}, err
		}
		balance, err := a.replay.ReconstructBalanceAsOf(ctx, acc.DriverID, asOf)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return TrendPoint{}, err
			}
			p.Partial = true
			metrics.AggregationWarnings.WithLabelValues("trend").Inc()
			logger.FromContext(ctx).Warn().Err(err).
				Str("driver_id", acc.DriverID.String()).
				Str("date", p.Date).
				Msg("balance replay failed, trend point is partial")
			continue
		}

		overdraft, severity := Classify(balance, acc.SpendingLimit)
		if overdraft > 0 {
			p.TotalSystemOverdraft += overdraft
			p.DriversOverdrawn++
		}
		if severity == SeverityCritical {
			p.CriticalDrivers++
		}
	}
	return p, nil
}
