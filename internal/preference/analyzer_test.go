package preference_test

import (
	"math"
	"testing"
	"time"

	"onetime/matching-service/internal/model"
	"onetime/matching-service/internal/preference"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAnalyze_EmptyHistory(t *testing.T) {
	pv := preference.NewAnalyzer(time.UTC).Analyze("w1", model.History{})

	if len(pv.CategoryScores) != 0 {
		t.Errorf("CategoryScores = %v, want empty", pv.CategoryScores)
	}
	if len(pv.LocationScores) != 0 {
		t.Errorf("LocationScores = %v, want empty", pv.LocationScores)
	}
	if pv.WageRange != preference.DefaultWageRange() {
		t.Errorf("WageRange = %+v, want defaults", pv.WageRange)
	}
	if len(pv.ActivityPattern.Days) != 0 || len(pv.ActivityPattern.Hours) != 0 {
		t.Errorf("ActivityPattern = %+v, want empty", pv.ActivityPattern)
	}
	if pv.WorkerID != "w1" {
		t.Errorf("WorkerID = %q, want w1", pv.WorkerID)
	}
}

func TestAnalyze_CategoryFrequencies(t *testing.T) {
	h := model.History{Applications: []model.Application{
		{Category: "식당", Location: "서울 강남구", Wage: 12000},
		{Category: "식당", Location: "서울 강남구", Wage: 14000},
		{Category: "물류", Location: "경기 성남시", Wage: 16000},
		{Category: "식당", Location: "서울 마포구", Wage: 18000},
	}}
	pv := preference.NewAnalyzer(time.UTC).Analyze("w1", h)

	if !approx(pv.CategoryScores["식당"], 0.75) {
		t.Errorf("식당 score = %v, want 0.75", pv.CategoryScores["식당"])
	}
	if !approx(pv.CategoryScores["물류"], 0.25) {
		t.Errorf("물류 score = %v, want 0.25", pv.CategoryScores["물류"])
	}
	if !approx(pv.LocationScores["서울 강남구"], 0.5) {
		t.Errorf("강남구 score = %v, want 0.5", pv.LocationScores["서울 강남구"])
	}

	want := model.WageRange{Min: 12000, Max: 18000, Avg: 15000}
	if pv.WageRange != want {
		t.Errorf("WageRange = %+v, want %+v", pv.WageRange, want)
	}
}

func TestAnalyze_LocationsTruncatedToTopFive(t *testing.T) {
	var apps []model.Application
	locations := []string{"A", "A", "A", "B", "B", "C", "D", "E", "F", "G"}
	for _, l := range locations {
		apps = append(apps, model.Application{Category: "x", Location: l})
	}
	pv := preference.NewAnalyzer(time.UTC).Analyze("w1", model.History{Applications: apps})

	if len(pv.LocationScores) != 5 {
		t.Fatalf("len(LocationScores) = %d, want 5: %v", len(pv.LocationScores), pv.LocationScores)
	}
	for _, l := range []string{"A", "B", "C", "D", "E"} {
		if _, ok := pv.LocationScores[l]; !ok {
			t.Errorf("location %q missing from top five", l)
		}
	}
	for l, s := range pv.LocationScores {
		if s < 0 || s > 1 {
			t.Errorf("LocationScores[%q] = %v out of [0,1]", l, s)
		}
	}
}

func TestAnalyze_WageIncludesCompletedSessions(t *testing.T) {
	h := model.History{
		Applications: []model.Application{{Category: "x", Wage: 10000}},
		WorkSessions: []model.WorkSession{
			{Wage: 20000, Completed: true},
			{Wage: 90000, Completed: false},
		},
	}
	pv := preference.NewAnalyzer(time.UTC).Analyze("w1", h)

	want := model.WageRange{Min: 10000, Max: 20000, Avg: 15000}
	if pv.WageRange != want {
		t.Errorf("WageRange = %+v, want %+v", pv.WageRange, want)
	}
}

func TestAnalyze_ActivityTopThree(t *testing.T) {
	// 2026-10-05 is a Monday.
	monday := time.Date(2026, 10, 5, 9, 0, 0, 0, time.UTC)
	var apps []model.Application
	add := func(day, hour, n int) {
		for i := 0; i < n; i++ {
			apps = append(apps, model.Application{
				Category:  "x",
				AppliedAt: monday.AddDate(0, 0, day).Add(time.Duration(hour-9) * time.Hour),
			})
		}
	}
	add(0, 9, 4)  // Monday 09h
	add(1, 10, 3) // Tuesday 10h
	add(2, 11, 2) // Wednesday 11h
	add(3, 12, 1) // Thursday 12h

	pv := preference.NewAnalyzer(time.UTC).Analyze("w1", model.History{Applications: apps})

	days := pv.ActivityPattern.Days
	if len(days) != 3 {
		t.Fatalf("len(Days) = %d, want 3", len(days))
	}
	wantDays := []int{int(time.Monday), int(time.Tuesday), int(time.Wednesday)}
	for i, d := range wantDays {
		if days[i].Key != d {
			t.Errorf("Days[%d].Key = %d, want %d", i, days[i].Key, d)
		}
	}
	if !approx(days[0].Score, 0.4) {
		t.Errorf("Days[0].Score = %v, want 0.4", days[0].Score)
	}

	hours := pv.ActivityPattern.Hours
	if len(hours) != 3 || hours[0].Key != 9 || hours[2].Key != 11 {
		t.Errorf("Hours = %+v, want keys 9,10,11", hours)
	}
}

func TestAnalyze_ActivityUsesTimeZone(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)
	// 20:00 UTC Sunday is 05:00 Monday in Seoul.
	at := time.Date(2026, 10, 4, 20, 0, 0, 0, time.UTC)
	h := model.History{Applications: []model.Application{{Category: "x", AppliedAt: at}}}

	pv := preference.NewAnalyzer(seoul).Analyze("w1", h)
	if pv.ActivityPattern.Days[0].Key != int(time.Monday) {
		t.Errorf("day bucket = %d, want Monday", pv.ActivityPattern.Days[0].Key)
	}
	if pv.ActivityPattern.Hours[0].Key != 5 {
		t.Errorf("hour bucket = %d, want 5", pv.ActivityPattern.Hours[0].Key)
	}
}
