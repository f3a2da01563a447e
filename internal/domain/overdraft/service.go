package overdraft

import (
	"context"
	"time"

	"github.com/fleetops/driver-ledger/internal/pkg/metrics"
)

// Service fronts the analyzer and trend aggregator for the handler and worker.
type Service struct {
	analyzer *Analyzer
	trends   *TrendAggregator
	cache    *TrendCache
}

func NewService(analyzer *Analyzer, trends *TrendAggregator, cache *TrendCache) *Service {
	return &Service{analyzer: analyzer, trends: trends, cache: cache}
}

func (s *Service) Summary(ctx context.Context, limit int) (*Report, error) {
	return s.analyzer.Summary(ctx, limit)
}

// Trend serves from cache when possible. Partial series are never cached.
func (s *Service) Trend(ctx context.Context, days int) (*Trend, error) {
	if days < 1 || days > s.trends.MaxDays() {
		return nil, ErrInvalidDays
	}
	start := time.Now()
	if t, ok := s.cache.Get(ctx, days); ok {
		metrics.TrendDuration.WithLabelValues("hit").Observe(time.Since(start).Seconds())
		return t, nil
	}

	gen, cacheable := s.cache.Generation(ctx)
	t, err := s.trends.DailySeries(ctx, days)
	if err != nil {
		return nil, err
	}
	if cacheable && !t.Partial {
		s.cache.Set(ctx, gen, days, t)
	}
	label := "miss"
	if !s.cache.Enabled() {
		label = "disabled"
	}
	metrics.TrendDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	return t, nil
}

// Warm recomputes the given windows into the cache.
func (s *Service) Warm(ctx context.Context, windows ...int) error {
	if !s.cache.Enabled() {
		return nil
	}
	for _, days := range windows {
		if days > s.trends.MaxDays() {
			continue
		}
		if _, err := s.Trend(ctx, days); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) MaxTrendDays() int { return s.trends.MaxDays() }
