// Package scoring ranks job postings against a worker's PreferenceVector.
//
// The score is a weighted sum of per-factor sub-scores plus two additive
// bonuses, clamped to [0,1]:
//
//	score = min(1, Σ wᵢ·fᵢ + competition + urgency)
//
// recent-activity and skills keep their weight slots but contribute 0.
package scoring

import (
	"math"
	"sort"

	"onetime/matching-service/internal/config"
	"onetime/matching-service/internal/model"
)

const (
	// Category/location lookup miss when the worker does have preferences.
	missScore = 0.3
	// Category/location score when the worker has no preferences at all.
	neutralScore = 0.5
	// Rating factor when the employer has no rating yet.
	neutralRating = 0.5

	wageInBand      = 1.0
	wageInRange     = 0.7
	wageAboveRange  = 0.8
	wageBelowRange  = 0.3
	wageBandPercent = 0.10

	competitionBonus = 0.05
	competitionCap   = 10.0
	urgencyBonus     = 0.10
	maxRating        = 5.0
)

// Engine is safe for concurrent use; its weights never change after New.
type Engine struct {
	w config.Weights
}

// New validates w and returns an Engine.
func New(w config.Weights) (*Engine, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Engine{w: w}, nil
}

// Weights returns a copy of the weight table.
func (e *Engine) Weights() config.Weights { return e.w }

// Score computes the candidate for a single posting.
func (e *Engine) Score(job model.JobPosting, pv model.PreferenceVector) model.MatchCandidate {
	d := model.MatchDetails{
		CategoryScore:    CategoryScore(job, pv),
		LocationScore:    LocationScore(job, pv),
		WageScore:        WageScore(job.Wage, pv.WageRange),
		RatingScore:      RatingScore(job.EmployerRating),
		CompetitionScore: CompetitionScore(job.ApplicantCount),
		IsUrgent:         job.Urgent,
		CompetitionLevel: job.ApplicantCount,
	}

	weighted := e.w.Category*d.CategoryScore +
		e.w.Location*d.LocationScore +
		e.w.Wage*d.WageScore +
		e.w.Rating*d.RatingScore
	// e.w.RecentActivity and e.w.Skills are reserved: their factors are 0.

	score := weighted + d.CompetitionScore
	if job.Urgent {
		score += urgencyBonus
	}

	return model.MatchCandidate{
		Job:                  job,
		Score:                clamp01(score),
		MatchDetails:         d,
		RecommendationReason: Reasons(d),
	}
}

// Rank scores every posting and sorts descending by score. Equal scores keep
// the input order.
func (e *Engine) Rank(jobs []model.JobPosting, pv model.PreferenceVector) []model.MatchCandidate {
	out := make([]model.MatchCandidate, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, e.Score(j, pv))
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	return out
}

func CategoryScore(job model.JobPosting, pv model.PreferenceVector) float64 {
	if len(pv.CategoryScores) == 0 {
		return neutralScore
	}
	if s, ok := pv.CategoryScores[job.Category]; ok {
		return clamp01(s)
	}
	return missScore
}

// LocationScore returns the best score among preferred locations that
// overlap the job's location.
func LocationScore(job model.JobPosting, pv model.PreferenceVector) float64 {
	if len(pv.LocationScores) == 0 {
		return neutralScore
	}
	jobLoc := NormalizeLocation(job.Location)
	best, found := 0.0, false
	for loc, s := range pv.LocationScores {
		if LocationsOverlap(jobLoc, NormalizeLocation(loc)) && (!found || s > best) {
			best, found = s, true
		}
	}
	if !found {
		return missScore
	}
	return clamp01(best)
}

func WageScore(wage int, r model.WageRange) float64 {
	w := float64(wage)
	switch {
	case math.Abs(w-r.Avg) <= r.Avg*wageBandPercent:
		return wageInBand
	case wage >= r.Min && wage <= r.Max:
		return wageInRange
	case wage > r.Max:
		return wageAboveRange
	default:
		return wageBelowRange
	}
}

func RatingScore(rating *float64) float64 {
	if rating == nil {
		return neutralRating
	}
	return clamp01(*rating / maxRating)
}

// CompetitionScore is the additive bonus for postings with few applicants.
func CompetitionScore(applicants int) float64 {
	return math.Max(0, 1-float64(applicants)/competitionCap) * competitionBonus
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
