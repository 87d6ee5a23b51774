// Package preference infers a worker's PreferenceVector from history.
package preference

import (
	"sort"
	"time"

	"onetime/matching-service/internal/model"
)

// Defaults used when a worker has no wage history.
const (
	DefaultMinWage = 10000
	DefaultMaxWage = 30000
	DefaultAvgWage = 15000

	maxLocations   = 5
	maxActivityBin = 3
)

// DefaultWageRange is the range assumed for a worker with no wage history.
func DefaultWageRange() model.WageRange {
	return model.WageRange{Min: DefaultMinWage, Max: DefaultMaxWage, Avg: DefaultAvgWage}
}

// Analyzer turns history into a PreferenceVector. The zero value buckets
// activity in UTC.
type Analyzer struct {
	loc *time.Location
}

// NewAnalyzer returns an Analyzer that buckets activity in loc.
func NewAnalyzer(loc *time.Location) *Analyzer {
	return &Analyzer{loc: loc}
}

// Analyze never fails: missing history yields a mostly-default vector.
func (a *Analyzer) Analyze(workerID string, h model.History) model.PreferenceVector {
	return model.PreferenceVector{
		WorkerID:        workerID,
		CategoryScores:  frequencies(h.Applications, func(ap model.Application) string { return ap.Category }, 0),
		WageRange:       wageRange(h),
		LocationScores:  frequencies(h.Applications, func(ap model.Application) string { return ap.Location }, maxLocations),
		ActivityPattern: a.activity(h),
	}
}

// frequencies maps each non-empty key to count/len(apps). limit > 0 keeps
// only the highest scores, ties broken by key.
func frequencies(apps []model.Application, key func(model.Application) string, limit int) map[string]float64 {
	scores := make(map[string]float64)
	if len(apps) == 0 {
		return scores
	}

	counts := make(map[string]int)
	for _, ap := range apps {
		if k := key(ap); k != "" {
			counts[k]++
		}
	}
	total := float64(len(apps))

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	for _, k := range keys {
		scores[k] = float64(counts[k]) / total
	}
	return scores
}

func wageRange(h model.History) model.WageRange {
	var wages []int
	for _, ap := range h.Applications {
		if ap.Wage > 0 {
			wages = append(wages, ap.Wage)
		}
	}
	for _, ws := range h.WorkSessions {
		if ws.Completed && ws.Wage > 0 {
			wages = append(wages, ws.Wage)
		}
	}
	if len(wages) == 0 {
		return DefaultWageRange()
	}

	r := model.WageRange{Min: wages[0], Max: wages[0]}
	sum := 0
	for _, w := range wages {
		r.Min = min(r.Min, w)
		r.Max = max(r.Max, w)
		sum += w
	}
	r.Avg = float64(sum) / float64(len(wages))
	return r
}

func (a *Analyzer) activity(h model.History) model.ActivityPattern {
	loc := a.loc
	if loc == nil {
		loc = time.UTC
	}

	var days [7]int
	var hours [24]int
	total := 0
	record := func(t time.Time) {
		if t.IsZero() {
			return
		}
		t = t.In(loc)
		days[t.Weekday()]++
		hours[t.Hour()]++
		total++
	}
	for _, ap := range h.Applications {
		record(ap.AppliedAt)
	}
	for _, ws := range h.WorkSessions {
		record(ws.StartedAt)
	}

	return model.ActivityPattern{
		Days:  topBuckets(days[:], total),
		Hours: topBuckets(hours[:], total),
	}
}

// topBuckets returns up to maxActivityBin non-zero bins by descending share.
func topBuckets(counts []int, total int) []model.ActivityBucket {
	out := make([]model.ActivityBucket, 0, maxActivityBin)
	if total == 0 {
		return out
	}
	for k, c := range counts {
		if c > 0 {
			out = append(out, model.ActivityBucket{Key: k, Score: float64(c) / float64(total)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > maxActivityBin {
		out = out[:maxActivityBin]
	}
	return out
}
