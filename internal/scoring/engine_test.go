package scoring_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onetime/matching-service/internal/config"
	"onetime/matching-service/internal/model"
	"onetime/matching-service/internal/preference"
	"onetime/matching-service/internal/scoring"
)

func ptr(f float64) *float64 { return &f }

func newEngine(t *testing.T) *scoring.Engine {
	t.Helper()
	e, err := scoring.New(config.DefaultWeights())
	require.NoError(t, err)
	return e
}

func TestNew_RejectsUnbalancedWeights(t *testing.T) {
	w := config.DefaultWeights()
	w.Category = 0.5
	_, err := scoring.New(w)
	assert.Error(t, err)
}

// Worker with strong affinities, urgent posting with two applicants.
func TestScore_ScenarioA(t *testing.T) {
	pv := model.PreferenceVector{
		CategoryScores: map[string]float64{"식당": 0.8},
		LocationScores: map[string]float64{"강남구": 0.9},
		WageRange:      model.WageRange{Min: 10000, Max: 20000, Avg: 15000},
	}
	job := model.JobPosting{
		Category:       "식당",
		Location:       "서울 강남구",
		Wage:           15000,
		EmployerRating: ptr(4.5),
		ApplicantCount: 2,
		Urgent:         true,
	}

	c := newEngine(t).Score(job, pv)

	assert.InDelta(t, 0.845, c.Score, 1e-9)
	assert.InDelta(t, 0.8, c.MatchDetails.CategoryScore, 1e-9)
	assert.InDelta(t, 0.9, c.MatchDetails.LocationScore, 1e-9)
	assert.InDelta(t, 1.0, c.MatchDetails.WageScore, 1e-9)
	assert.InDelta(t, 0.9, c.MatchDetails.RatingScore, 1e-9)
	assert.InDelta(t, 0.04, c.MatchDetails.CompetitionScore, 1e-9)
	assert.True(t, c.MatchDetails.IsUrgent)
	assert.Equal(t, 2, c.MatchDetails.CompetitionLevel)
	assert.Contains(t, c.RecommendationReason, scoring.ReasonCategory)
	assert.Contains(t, c.RecommendationReason, scoring.ReasonLocation)
	assert.Contains(t, c.RecommendationReason, scoring.ReasonUrgent)
}

// Worker with no history at all.
func TestScore_ScenarioB(t *testing.T) {
	pv := preference.NewAnalyzer(nil).Analyze("w1", model.History{})
	job := model.JobPosting{
		Category:       "편의점",
		Location:       "부산 해운대구",
		Wage:           15000,
		EmployerRating: ptr(4),
		ApplicantCount: 0,
	}

	c := newEngine(t).Score(job, pv)

	assert.InDelta(t, 0.555, c.Score, 1e-9)
	assert.InDelta(t, 0.5, c.MatchDetails.CategoryScore, 1e-9)
	assert.InDelta(t, 0.5, c.MatchDetails.LocationScore, 1e-9)
}

func TestCategoryAndLocationDefaults(t *testing.T) {
	job := model.JobPosting{Category: "물류", Location: "인천"}

	empty := model.PreferenceVector{}
	if got := scoring.CategoryScore(job, empty); got != 0.5 {
		t.Errorf("CategoryScore(empty prefs) = %v, want 0.5", got)
	}
	if got := scoring.LocationScore(job, empty); got != 0.5 {
		t.Errorf("LocationScore(empty prefs) = %v, want 0.5", got)
	}

	other := model.PreferenceVector{
		CategoryScores: map[string]float64{"식당": 1},
		LocationScores: map[string]float64{"서울": 1},
	}
	if got := scoring.CategoryScore(job, other); got != 0.3 {
		t.Errorf("CategoryScore(miss) = %v, want 0.3", got)
	}
	if got := scoring.LocationScore(job, other); got != 0.3 {
		t.Errorf("LocationScore(miss) = %v, want 0.3", got)
	}
}

func TestLocationScore_PicksBestOverlap(t *testing.T) {
	pv := model.PreferenceVector{LocationScores: map[string]float64{
		"서울":      0.4,
		"서울 마포구":  0.6,
		"경기 성남시":  0.9,
	}}
	job := model.JobPosting{Location: "서울  마포구 합정동"}
	assert.InDelta(t, 0.6, scoring.LocationScore(job, pv), 1e-9)
}

func TestWageScore(t *testing.T) {
	r := model.WageRange{Min: 10000, Max: 20000, Avg: 15000}
	cases := []struct {
		wage int
		want float64
	}{
		{15000, 1.0},
		{16500, 1.0}, // +10%
		{13500, 1.0}, // -10%
		{17000, 0.7},
		{10000, 0.7},
		{25000, 0.8},
		{9000, 0.3},
	}
	for _, c := range cases {
		if got := scoring.WageScore(c.wage, r); got != c.want {
			t.Errorf("WageScore(%d) = %v, want %v", c.wage, got, c.want)
		}
	}
}

func TestRatingScore_MissingIsNeutral(t *testing.T) {
	assert.Equal(t, 0.5, scoring.RatingScore(nil))
	assert.Equal(t, 1.0, scoring.RatingScore(ptr(7)))
	assert.InDelta(t, 0.8, scoring.RatingScore(ptr(4)), 1e-9)
}

func TestCompetitionScore(t *testing.T) {
	assert.InDelta(t, 0.05, scoring.CompetitionScore(0), 1e-9)
	assert.InDelta(t, 0.025, scoring.CompetitionScore(5), 1e-9)
	assert.Equal(t, 0.0, scoring.CompetitionScore(10))
	assert.Equal(t, 0.0, scoring.CompetitionScore(40))
}

func TestScore_AlwaysWithinUnitInterval(t *testing.T) {
	e := newEngine(t)
	rng := rand.New(rand.NewSource(42))
	categories := []string{"식당", "물류", "편의점", "행사"}
	locations := []string{"서울", "부산", "인천", "대구"}

	for i := 0; i < 2000; i++ {
		pv := model.PreferenceVector{
			CategoryScores: map[string]float64{categories[rng.Intn(4)]: rng.Float64()},
			LocationScores: map[string]float64{locations[rng.Intn(4)]: rng.Float64()},
			WageRange:      model.WageRange{Min: rng.Intn(10000), Max: 10000 + rng.Intn(30000), Avg: float64(5000 + rng.Intn(20000))},
		}
		if rng.Intn(3) == 0 {
			pv = model.PreferenceVector{}
		}
		job := model.JobPosting{
			Category:       categories[rng.Intn(4)],
			Location:       locations[rng.Intn(4)],
			Wage:           rng.Intn(60000),
			Urgent:         rng.Intn(2) == 0,
			ApplicantCount: rng.Intn(20),
		}
		if rng.Intn(2) == 0 {
			job.EmployerRating = ptr(rng.Float64() * 6)
		}

		s := e.Score(job, pv).Score
		if s < 0 || s > 1 || math.IsNaN(s) {
			t.Fatalf("score %v out of [0,1] for job=%+v pv=%+v", s, job, pv)
		}
	}
}

func TestRank_SortedDescendingStable(t *testing.T) {
	e := newEngine(t)
	pv := model.PreferenceVector{}
	jobs := []model.JobPosting{
		{ID: "low", Wage: 1000, ApplicantCount: 10},
		{ID: "tie-1", Wage: 15000},
		{ID: "high", Wage: 15000, Urgent: true},
		{ID: "tie-2", Wage: 15000},
	}

	ranked := e.Rank(jobs, pv)
	ids := make([]string, len(ranked))
	for i, c := range ranked {
		ids[i] = c.Job.ID
	}
	assert.Equal(t, []string{"high", "tie-1", "tie-2", "low"}, ids)
}

func TestReasons_GenericFallback(t *testing.T) {
	d := model.MatchDetails{CategoryScore: 0.3, LocationScore: 0.3, WageScore: 0.7, RatingScore: 0.5, CompetitionLevel: 8}
	assert.Equal(t, []string{scoring.ReasonGeneric}, scoring.Reasons(d))
}

func TestNormalizeLocation(t *testing.T) {
	assert.Equal(t, "gangnam-gu", scoring.NormalizeLocation("  ＧＡＮＧＮＡＭ-Gu "))
	assert.Equal(t, "cafe seoul", scoring.NormalizeLocation("Café   Seoul"))
	assert.True(t, scoring.LocationsOverlap("서울 강남구 역삼동", "서울 강남구"))
	assert.False(t, scoring.LocationsOverlap("", "서울"))
}

func TestDistanceKm(t *testing.T) {
	// Seoul City Hall to Gangnam Station is roughly 9km.
	d := scoring.DistanceKm(37.5663, 126.9779, 37.4979, 127.0276)
	assert.InDelta(t, 8.8, d, 0.5)
}
