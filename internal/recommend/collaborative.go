package recommend

import (
	"context"
	"sort"

	"onetime/matching-service/internal/logger"
	"onetime/matching-service/internal/model"
	"onetime/matching-service/internal/preference"
	"onetime/matching-service/internal/store"
)

const topCategories = 3

// CollaborativeFilter surfaces postings that workers sharing at least one
// top preferred category were accepted for. Results are not scored.
type CollaborativeFilter struct {
	store    store.Reader
	analyzer *preference.Analyzer
	log      *logger.Logger
}

func NewCollaborativeFilter(st store.Reader, analyzer *preference.Analyzer, log *logger.Logger) *CollaborativeFilter {
	if log == nil {
		log = logger.Nop()
	}
	return &CollaborativeFilter{store: st, analyzer: analyzer, log: log.With("component", "CollaborativeFilter")}
}

// Similar returns up to limit postings. Store failures are logged and yield
// an empty list.
func (f *CollaborativeFilter) Similar(ctx context.Context, workerID string, limit int) []model.JobPosting {
	out := make([]model.JobPosting, 0)
	if limit <= 0 {
		return out
	}

	h, err := f.store.History(ctx, workerID)
	if err != nil {
		f.log.Warn("history lookup failed", "worker_id", workerID, "err", err)
		return out
	}
	cats := TopCategories(f.analyzer.Analyze(workerID, h), topCategories)
	if len(cats) == 0 {
		return out
	}

	peers, err := f.store.WorkersByTopCategories(ctx, cats, topCategories, workerID)
	if err != nil {
		f.log.Warn("similar worker lookup failed", "worker_id", workerID, "err", err)
		return out
	}
	if len(peers) == 0 {
		return out
	}

	jobs, err := f.store.AcceptedJobs(ctx, peers)
	if err != nil {
		f.log.Warn("accepted jobs lookup failed", "worker_id", workerID, "err", err)
		return out
	}

	applied := h.AppliedJobIDs()
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if _, done := applied[j.ID]; done || seen[j.ID] {
			continue
		}
		seen[j.ID] = true
		out = append(out, j)
		if len(out) == limit {
			break
		}
	}
	return out
}

// TopCategories returns up to n categories by descending score, ties by name.
func TopCategories(pv model.PreferenceVector, n int) []string {
	cats := make([]string, 0, len(pv.CategoryScores))
	for c := range pv.CategoryScores {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		si, sj := pv.CategoryScores[cats[i]], pv.CategoryScores[cats[j]]
		if si != sj {
			return si > sj
		}
		return cats[i] < cats[j]
	})
	if len(cats) > n {
		cats = cats[:n]
	}
	return cats
}
