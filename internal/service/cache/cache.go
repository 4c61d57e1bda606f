// Package cache decorates an analysis source with a shared response cache.
package cache

import (
	"context"
	"errors"
	"time"

	"CryptoAgent/internal/domain/models"
	"CryptoAgent/internal/domain/repository"
	pkgcache "CryptoAgent/pkg/cache"
	"CryptoAgent/pkg/logger"
	"CryptoAgent/pkg/util"
)

const keyPrefix = "analysis"

// CachedSource serves analyses from a pkg/cache store and falls back to the wrapped
// source on a miss. Store failures are logged and never fail a fetch.
type CachedSource struct {
	next    repository.AnalysisSource
	store   pkgcache.Service
	ttl     time.Duration
	log     *logger.Logger
	metrics repository.Metrics
}

// Option configures CachedSource.
type Option func(*CachedSource)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *CachedSource) { s.log = l.Component("analysis-cache") }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m repository.Metrics) Option {
	return func(s *CachedSource) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewCachedSource wraps next. ttl <= 0 defaults to 30s.
func NewCachedSource(next repository.AnalysisSource, store pkgcache.Service, ttl time.Duration, opts ...Option) *CachedSource {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	s := &CachedSource{
		next:    next,
		store:   store,
		ttl:     ttl,
		log:     logger.Nop(),
		metrics: repository.NopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the store key of a query.
func Key(k models.QueryKey) string {
	return pkgcache.GenerateKeyWithParams(keyPrefix, k.Symbol, k.Timeframe, k.Lookback)
}

// FetchAnalysis implements repository.AnalysisSource.
func (s *CachedSource) FetchAnalysis(ctx context.Context, key models.QueryKey) (*models.Analysis, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	k := Key(key)

	a, err := pkgcache.GetTyped[models.Analysis](ctx, s.store, k)
	switch {
	case err == nil:
		s.metrics.RecordCache("hit")
		return &a, nil
	case errors.Is(err, pkgcache.ErrCacheMiss):
		s.metrics.RecordCache("miss")
	default:
		s.metrics.RecordCache("error")
		s.log.Warn("cache read failed", logger.String("key", k), logger.Error(err))
	}

	fresh, err := s.next.FetchAnalysis(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, k, fresh, s.ttlFor(key)); err != nil {
		s.log.Warn("cache write failed", logger.String("key", k), logger.Error(err))
	}
	return fresh, nil
}

// Invalidate removes every cached lookback of symbol/timeframe.
func (s *CachedSource) Invalidate(ctx context.Context, symbol, timeframe string) error {
	prefix := pkgcache.GenerateKeyWithParams(keyPrefix, symbol, timeframe)
	return s.store.DeleteByPattern(ctx, pkgcache.BuildPattern(prefix+":"))
}

// ttlFor keeps an entry no longer than one bar of its timeframe.
func (s *CachedSource) ttlFor(key models.QueryKey) time.Duration {
	if d, ok := util.TimeframeDuration(key.Timeframe); ok && d < s.ttl {
		return d
	}
	return s.ttl
}

var (
	_ repository.AnalysisSource   = (*CachedSource)(nil)
	_ repository.CacheInvalidator = (*CachedSource)(nil)
)
