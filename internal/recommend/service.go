package recommend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"onetime/matching-service/internal/logger"
	"onetime/matching-service/internal/model"
	"onetime/matching-service/internal/preference"
	"onetime/matching-service/internal/scoring"
	"onetime/matching-service/internal/store"
)

// KeyPrefix namespaces recommendation lists in the cache backend.
const KeyPrefix = "rec"

// Options are the request options of a recommendation call. They are part of
// the cache key, so every field must be JSON-visible.
type Options struct {
	Limit      int     `json:"limit"`
	Category   string  `json:"category,omitempty"`
	Location   string  `json:"location,omitempty"`
	UrgentOnly bool    `json:"urgentOnly,omitempty"`
	MinScore   float64 `json:"minScore,omitempty"`
}

// Service serves ranked recommendation lists through the cache.
type Service struct {
	store        store.Reader
	analyzer     *preference.Analyzer
	engine       *scoring.Engine
	cache        *Cache
	ttl          time.Duration
	defaultLimit int
	maxLimit     int
	log          *logger.Logger
}

// ServiceConfig carries the tunables of a Service.
type ServiceConfig struct {
	TTL          time.Duration
	DefaultLimit int
	MaxLimit     int
}

func NewService(st store.Reader, analyzer *preference.Analyzer, engine *scoring.Engine, cache *Cache, cfg ServiceConfig, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:        st,
		analyzer:     analyzer,
		engine:       engine,
		cache:        cache,
		ttl:          cfg.TTL,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
		log:          log.With("component", "Recommender"),
	}
}

// normalize clamps the limit so equivalent requests share a cache key.
func (s *Service) normalize(opts Options) Options {
	opts.Category = strings.TrimSpace(opts.Category)
	opts.Location = strings.TrimSpace(opts.Location)
	if opts.Limit <= 0 {
		opts.Limit = s.defaultLimit
	}
	if s.maxLimit > 0 && opts.Limit > s.maxLimit {
		opts.Limit = s.maxLimit
	}
	return opts
}

// Recommend returns OPEN postings ranked for workerID, best first.
func (s *Service) Recommend(ctx context.Context, workerID string, opts Options) ([]model.MatchCandidate, error) {
	opts = s.normalize(opts)

	key, err := CanonicalKey(KeyPrefix, workerID, opts)
	if err != nil {
		// Unkeyable options still get an answer, just uncached.
		s.log.Warn("building cache key failed", "err", err)
		return s.compute(ctx, workerID, opts)
	}
	return GetOrCompute(ctx, s.cache, key, s.ttl, func(ctx context.Context) ([]model.MatchCandidate, error) {
		return s.compute(ctx, workerID, opts)
	})
}

// Invalidate drops every cached list for workerID.
func (s *Service) Invalidate(ctx context.Context, workerID string) {
	s.cache.Invalidate(ctx, KeyPrefix, workerID)
}

func (s *Service) compute(ctx context.Context, workerID string, opts Options) ([]model.MatchCandidate, error) {
	h, err := s.store.History(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	pv := s.analyzer.Analyze(workerID, h)

	jobs, err := s.store.OpenJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load open jobs: %w", err)
	}

	filtered := jobs[:0:0]
	wantLoc := scoring.NormalizeLocation(opts.Location)
	for _, j := range jobs {
		if opts.Category != "" && !j.InCategory(opts.Category) {
			continue
		}
		if opts.UrgentOnly && !j.Urgent {
			continue
		}
		if wantLoc != "" && !scoring.LocationsOverlap(scoring.NormalizeLocation(j.Location), wantLoc) {
			continue
		}
		filtered = append(filtered, j)
	}

	ranked := s.engine.Rank(filtered, pv)
	out := make([]model.MatchCandidate, 0, min(len(ranked), opts.Limit))
	for _, c := range ranked {
		if c.Score < opts.MinScore {
			// ranked is descending, nothing further qualifies
			break
		}
		out = append(out, c)
		if len(out) == opts.Limit {
			break
		}
	}

	s.log.Debug("recommendations computed", "worker_id", workerID, "open", len(jobs), "returned", len(out))
	return out, nil
}
