package overdraft

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetops/driver-ledger/internal/domain/ledger"
	"github.com/fleetops/driver-ledger/internal/pkg/metrics"
)

var warmWindows = []int{7, 30}

// Reconciler is satisfied by ledger.BalanceEngine.
type Reconciler interface {
	ReconcileAll(ctx context.Context) ([]ledger.Drift, error)
}

// Worker periodically snapshots the overdraft summary into Prometheus gauges
// and warms the common trend windows.
type Worker struct {
	svc        *Service
	reconciler Reconciler
	interval   time.Duration
	timeout    time.Duration
	stopCh     chan struct{}
	done       sync.WaitGroup
	once       sync.Once
}

// NewWorker creates a new snapshot worker
func NewWorker(svc *Service, interval time.Duration) *Worker {
	if interval == 0 {
		interval = 15 * time.Minute
	}
	return &Worker{
		svc:      svc,
		interval: interval,
		timeout:  2 * time.Minute,
		stopCh:   make(chan struct{}),
	}
}

// WithReconciler makes every pass also compare cached balances with a replay
// and export the drifted account count.
func (w *Worker) WithReconciler(r Reconciler) *Worker {
	w.reconciler = r
	return w
}

// Start begins the background worker
func (w *Worker) Start() {
	log.Info().Dur("interval", w.interval).Msg("Starting overdraft snapshot worker...")
	w.done.Add(1)
	go w.loop()
}

// Stop signals the worker and waits for a running snapshot to finish.
func (w *Worker) Stop() {
	w.once.Do(func() {
		log.Info().Msg("Stopping overdraft snapshot worker...")
		close(w.stopCh)
	})
	w.done.Wait()
}

func (w *Worker) loop() {
	defer w.done.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	w.Snapshot()

	for {
		select {
		case <-ticker.C:
			w.Snapshot()
		case <-w.stopCh:
			return
		}
	}
}

// Snapshot runs one pass. Failures are logged; the next tick retries.
func (w *Worker) Snapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	// Cancel the pass when Stop is called mid-run.
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	report, err := w.svc.Summary(ctx, MaxRankingLimit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute overdraft snapshot")
		return
	}
	s := report.Summary
	metrics.SetOverdraftSnapshot(s.TotalSystemOverdraft, s.TotalDriversOverdrawn, s.CriticalCases)

	if report.Partial {
		log.Warn().Int("warnings", report.Warnings).Msg("Overdraft snapshot is partial")
	}
	log.Debug().
		Int64("total_system_overdraft", s.TotalSystemOverdraft).
		Int("drivers_overdrawn", s.TotalDriversOverdrawn).
		Int("critical_cases", s.CriticalCases).
		Msg("Overdraft snapshot updated")

	if err := w.svc.Warm(ctx, warmWindows...); err != nil {
		log.Error().Err(err).Msg("Failed to warm overdraft trend cache")
	}

	if w.reconciler == nil {
		return
	}
	drifted, err := w.reconciler.ReconcileAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to reconcile balances")
		return
	}
	metrics.BalanceDrift.Set(float64(len(drifted)))
	for _, d := range drifted {
		log.Warn().
			Str("driver_id", d.DriverID.String()).
			Int64("cached", d.Cached).
			Int64("reconstructed", d.Reconstructed).
			Msg("Cached balance drifted from ledger")
	}
}
