package overdraft_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fleetops/driver-ledger/internal/domain/ledger"
	"github.com/fleetops/driver-ledger/internal/domain/overdraft"
	"github.com/fleetops/driver-ledger/internal/domain/period"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fixture struct {
	clock    *testClock
	store    *ledger.MemoryStore
	periods  *period.Classifier
	registry *ledger.Registry
	engine   *ledger.BalanceEngine
	ledger   *ledger.Ledger
	analyzer *overdraft.Analyzer
	trends   *overdraft.TrendAggregator
	service  *overdraft.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC)}
	periods := period.NewClassifier(time.UTC).WithClock(clock.Now)
	store := ledger.NewMemoryStore()
	registry := ledger.NewRegistry(store, periods, 3000)
	engine := ledger.NewBalanceEngine(store, periods)
	l := ledger.NewLedger(store, registry, engine, periods, ledger.Options{AutoProvision: true})

	analyzer := overdraft.NewAnalyzer(store, periods)
	trends := overdraft.NewTrendAggregator(store, engine, periods, 90, 4)
	return &fixture{
		clock:    clock,
		store:    store,
		periods:  periods,
		registry: registry,
		engine:   engine,
		ledger:   l,
		analyzer: analyzer,
		trends:   trends,
		service:  overdraft.NewService(analyzer, trends, overdraft.NewTrendCache(nil, 0)),
	}
}

func (f *fixture) provision(t *testing.T, limit int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := f.registry.Provision(context.Background(), id, &limit); err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	return id
}

func (f *fixture) post(t *testing.T, driverID uuid.UUID, typ ledger.TransactionType, amount int64, at *time.Time) {
	t.Helper()
	_, err := f.ledger.Append(context.Background(), ledger.AppendInput{
		DriverID:  driverID,
		Type:      typ,
		Amount:    amount,
		CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("append %s %d failed: %v", typ, amount, err)
	}
}

func (f *fixture) daysAgo(n int) *time.Time {
	at := f.clock.Now().AddDate(0, 0, -n)
	return &at
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		balance   int64
		limit     int64
		overdraft int64
		severity  overdraft.Severity
	}{
		{"positive balance", 500, 3000, 0, overdraft.SeverityNone},
		{"zero balance", 0, 3000, 0, overdraft.SeverityNone},
		{"small overdraft", -1000, 3000, 1000, overdraft.SeverityWarning},
		{"exactly half is not critical", -1500, 3000, 1500, overdraft.SeverityWarning},
		{"just over half", -1501, 3000, 1501, overdraft.SeverityCritical},
		{"far over", -4000, 3000, 4000, overdraft.SeverityCritical},
		{"odd limit below half", -1500, 3001, 1500, overdraft.SeverityWarning},
		{"odd limit over half", -1501, 3001, 1501, overdraft.SeverityCritical},
		{"zero limit", -1, 0, 1, overdraft.SeverityCritical},
		{"below half of larger limit", -2000, 5000, 2000, overdraft.SeverityWarning},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o, s := overdraft.Classify(tc.balance, tc.limit)
			if o != tc.overdraft || s != tc.severity {
				t.Fatalf("Classify(%d, %d) = (%d, %s), want (%d, %s)", tc.balance, tc.limit, o, s, tc.overdraft, tc.severity)
			}
		})
	}
}

func TestSummaryOverdrawScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driver := f.provision(t, 5000)

	f.post(t, driver, ledger.TransactionTypeTopUp, 10000, nil)
	f.post(t, driver, ledger.TransactionTypeExpense, 12000, nil)

	report, err := f.analyzer.Summary(ctx, 0)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if len(report.OverdrawnDrivers) != 1 {
		t.Fatalf("expected one overdrawn driver, got %d", len(report.OverdrawnDrivers))
	}
	status := report.OverdrawnDrivers[0]
	if status.CurrentBalance != -2000 || !status.IsOverdrawn || status.OverdraftAmount != 2000 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Severity != overdraft.SeverityWarning {
		t.Fatalf("expected warning, got %s", status.Severity)
	}
	if status.WeeklyExpenses != 12000 || status.DailyExpenses != 12000 {
		t.Fatalf("unexpected expense totals weekly=%d daily=%d", status.WeeklyExpenses, status.DailyExpenses)
	}

	f.post(t, driver, ledger.TransactionTypeExpense, 2000, nil)
	report, err = f.analyzer.Summary(ctx, 0)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	status = report.OverdrawnDrivers[0]
	if status.OverdraftAmount != 4000 || status.Severity != overdraft.SeverityCritical {
		t.Fatalf("expected critical at 4000, got %+v", status)
	}
	if report.Summary.CriticalCases != 1 {
		t.Fatalf("expected one critical case, got %d", report.Summary.CriticalCases)
	}
}

func TestSummaryAverage(t *testing.T) {
	f := newFixture(t)
	a := f.provision(t, 10000)
	b := f.provision(t, 10000)
	c := f.provision(t, 10000)

	f.post(t, a, ledger.TransactionTypeExpense, 2000, nil)
	f.post(t, b, ledger.TransactionTypeExpense, 500, nil)
	f.post(t, c, ledger.TransactionTypeTopUp, 700, nil)

	report, err := f.analyzer.Summary(context.Background(), 0)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	s := report.Summary
	if s.TotalDriversOverdrawn != 2 || s.TotalSystemOverdraft != 2500 || s.TotalDrivers != 3 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if s.AverageOverdraft != 1250 {
		t.Fatalf("average = %v, want 1250", s.AverageOverdraft)
	}
	if len(report.AllDriversStatus) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(report.AllDriversStatus))
	}
}

func TestSummaryNobodyOverdrawn(t *testing.T) {
	f := newFixture(t)
	d := f.provision(t, 1000)
	f.post(t, d, ledger.TransactionTypeTopUp, 100, nil)

	report, err := f.analyzer.Summary(context.Background(), 0)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if report.Summary.AverageOverdraft != 0 || report.Summary.TotalDriversOverdrawn != 0 {
		t.Fatalf("unexpected summary %+v", report.Summary)
	}
	if report.OverdrawnDrivers == nil || len(report.OverdrawnDrivers) != 0 {
		t.Fatalf("expected empty overdrawn list, got %v", report.OverdrawnDrivers)
	}
}

func TestSummaryRanking(t *testing.T) {
	f := newFixture(t)
	amounts := []int64{300, 900, 900, 100, 500}
	for _, amount := range amounts {
		d := f.provision(t, 10000)
		f.post(t, d, ledger.TransactionTypeExpense, amount, nil)
	}

	report, err := f.analyzer.Summary(context.Background(), 3)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	got := report.OverdrawnDrivers
	if len(got) != 3 {
		t.Fatalf("expected 3 ranked drivers, got %d", len(got))
	}
	if got[0].OverdraftAmount != 900 || got[1].OverdraftAmount != 900 || got[2].OverdraftAmount != 500 {
		t.Fatalf("unexpected ranking %+v", got)
	}
	if got[0].DriverID.String() > got[1].DriverID.String() {
		t.Fatal("equal overdrafts must be ordered by driver id")
	}
	// The summary still covers every driver.
	if report.Summary.TotalDriversOverdrawn != 5 || report.Summary.TotalSystemOverdraft != 2700 {
		t.Fatalf("unexpected summary %+v", report.Summary)
	}
}

func TestSummaryLimitValidation(t *testing.T) {
	f := newFixture(t)
	for _, limit := range []int{-1, overdraft.MaxRankingLimit + 1} {
		_, err := f.analyzer.Summary(context.Background(), limit)
		if !errors.Is(err, overdraft.ErrInvalidLimit) || !errors.Is(err, ledger.ErrValidation) {
			t.Fatalf("limit %d: expected ErrInvalidLimit, got %v", limit, err)
		}
	}
}

func TestSummaryExpenseWindows(t *testing.T) {
	f := newFixture(t)
	d := f.provision(t, 10000)
	f.post(t, d, ledger.TransactionTypeTopUp, 50000, f.daysAgo(20))
	f.post(t, d, ledger.TransactionTypeExpense, 100, f.daysAgo(10))
	f.post(t, d, ledger.TransactionTypeExpense, 200, f.daysAgo(3))
	f.post(t, d, ledger.TransactionTypeManualDebit, 300, nil)
	f.post(t, d, ledger.TransactionTypeRefund, 50, nil)

	report, err := f.analyzer.Summary(context.Background(), 0)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	status := report.AllDriversStatus[0]
	if status.WeeklyExpenses != 500 {
		t.Fatalf("weekly = %d, want 500", status.WeeklyExpenses)
	}
	if status.DailyExpenses != 300 {
		t.Fatalf("daily = %d, want 300", status.DailyExpenses)
	}
}

type flakySource struct {
	*ledger.MemoryStore
	failFor uuid.UUID
}

func (s flakySource) SumActiveDebits(ctx context.Context, driverID uuid.UUID, from, to time.Time) (int64, error) {
	if driverID == s.failFor {
		return 0, errors.New("replica unavailable")
	}
	return s.MemoryStore.SumActiveDebits(ctx, driverID, from, to)
}

func TestSummaryPartialOnExpenseFailure(t *testing.T) {
	f := newFixture(t)
	broken := f.provision(t, 1000)
	healthy := f.provision(t, 1000)
	f.post(t, broken, ledger.TransactionTypeExpense, 800, nil)
	f.post(t, healthy, ledger.TransactionTypeExpense, 200, nil)

	analyzer := overdraft.NewAnalyzer(flakySource{MemoryStore: f.store, failFor: broken}, f.periods)
	report, err := analyzer.Summary(context.Background(), 0)
	if err != nil {
		t.Fatalf("partial failures must not fail the report: %v", err)
	}
	if !report.Partial || report.Warnings != 1 {
		t.Fatalf("expected partial report with one warning, got partial=%v warnings=%d", report.Partial, report.Warnings)
	}
	if report.Summary.TotalSystemOverdraft != 1000 || report.Summary.CriticalCases != 1 {
		t.Fatalf("severity must still use the balance: %+v", report.Summary)
	}
	for _, s := range report.AllDriversStatus {
		if s.DriverID == broken && (!s.Partial || s.WeeklyExpenses != 0) {
			t.Fatalf("broken driver status %+v", s)
		}
		if s.DriverID == healthy && (s.Partial || s.WeeklyExpenses != 200) {
			t.Fatalf("healthy driver status %+v", s)
		}
	}
}

func TestSummaryCancelled(t *testing.T) {
	f := newFixture(t)
	f.provision(t, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.analyzer.Summary(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
