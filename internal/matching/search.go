package matching

import (
	"context"
	"fmt"
	"maps"

	"onetime/matching-service/internal/model"
	"onetime/matching-service/internal/scoring"
)

// requestedLocationScore is the affinity given to the location a worker
// typed into the join request, on top of the inferred preferences.
const requestedLocationScore = 1.0

// search scores the open postings that pass prefs' hard filters and keeps
// the best ones at or above the acceptance floor.
func (q *Queue) search(ctx context.Context, workerID string, prefs Preferences) ([]model.MatchCandidate, error) {
	h, err := q.store.History(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	jobs, err := q.store.OpenJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load open jobs: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pv := q.analyzer.Analyze(workerID, h)
	pv.LocationScores = maps.Clone(pv.LocationScores)
	if pv.LocationScores == nil {
		pv.LocationScores = make(map[string]float64, 1)
	}
	pv.LocationScores[prefs.Location] = requestedLocationScore

	applied := h.AppliedJobIDs()
	eligible := make([]model.JobPosting, 0, len(jobs))
	for _, j := range jobs {
		if _, done := applied[j.ID]; done {
			continue
		}
		if prefs.admits(j) {
			eligible = append(eligible, j)
		}
	}

	out := make([]model.MatchCandidate, 0, q.opts.MaxCandidates)
	for _, c := range q.engine.Rank(eligible, pv) {
		if c.Score < q.opts.Threshold || len(out) == q.opts.MaxCandidates {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

// admits applies the hard filters of a join request.
func (p Preferences) admits(j model.JobPosting) bool {
	if !j.IsOpen() {
		return false
	}
	if p.Category != "" && !j.InCategory(p.Category) {
		return false
	}
	if p.UrgentOnly && !j.Urgent {
		return false
	}
	if p.ExpectedSalary > 0 && j.Wage < p.ExpectedSalary {
		return false
	}
	if p.MaxDistance > 0 && p.Latitude != nil && p.Longitude != nil && j.Latitude != nil && j.Longitude != nil {
		if scoring.DistanceKm(*p.Latitude, *p.Longitude, *j.Latitude, *j.Longitude) > p.MaxDistance {
			return false
		}
	}
	return true
}
