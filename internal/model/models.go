// Package model defines the data shared by the scoring, recommendation and
// matching packages. Records read from the store are never mutated here.
package model

import (
	"strings"
	"time"
)

// JobStatus mirrors the job_status enum of the postings table.
type JobStatus string

const (
	JobOpen   JobStatus = "OPEN"
	JobClosed JobStatus = "CLOSED"
)

// JobPosting is a short-term job as read from the store.
type JobPosting struct {
	ID             string    `json:"id"`
	EmployerID     string    `json:"employerId,omitempty"`
	Title          string    `json:"title"`
	Category       string    `json:"category"`
	Location       string    `json:"location"`
	Wage           int       `json:"wage"`
	Urgent         bool      `json:"urgent"`
	EmployerRating *float64  `json:"employerRating"`
	ApplicantCount int       `json:"applicantCount"`
	Status         JobStatus `json:"status"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// IsOpen reports whether the posting still accepts workers.
func (j JobPosting) IsOpen() bool { return j.Status == JobOpen }

// InCategory compares categories ignoring case and surrounding space.
func (j JobPosting) InCategory(category string) bool {
	return strings.EqualFold(strings.TrimSpace(j.Category), strings.TrimSpace(category))
}

// ApplicationStatus mirrors the application_status enum.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "PENDING"
	ApplicationAccepted ApplicationStatus = "ACCEPTED"
	ApplicationRejected ApplicationStatus = "REJECTED"
)

// Application is one historical application with the job attributes that
// preference inference needs denormalised onto it.
type Application struct {
	ID        string            `json:"id"`
	JobID     string            `json:"jobId"`
	WorkerID  string            `json:"workerId"`
	Category  string            `json:"category"`
	Location  string            `json:"location"`
	Wage      int               `json:"wage"`
	Status    ApplicationStatus `json:"status"`
	AppliedAt time.Time         `json:"appliedAt"`
}

// WorkSession is a shift the worker actually worked.
type WorkSession struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	WorkerID  string    `json:"workerId"`
	Wage      int       `json:"wage"`
	StartedAt time.Time `json:"startedAt"`
	Completed bool      `json:"completed"`
}

// History is everything the analyzer looks at for one worker.
type History struct {
	Applications []Application
	WorkSessions []WorkSession
}

// AppliedJobIDs returns the set of postings the worker already applied to.
func (h History) AppliedJobIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(h.Applications))
	for _, a := range h.Applications {
		ids[a.JobID] = struct{}{}
	}
	return ids
}

// WageRange summarises historical wages.
type WageRange struct {
	Min int     `json:"min"`
	Max int     `json:"max"`
	Avg float64 `json:"avg"`
}

// ActivityBucket is one weekday (0=Sunday) or hour (0-23) with its share of
// the worker's activity.
type ActivityBucket struct {
	Key   int     `json:"key"`
	Score float64 `json:"score"`
}

type ActivityPattern struct {
	Days  []ActivityBucket `json:"days"`
	Hours []ActivityBucket `json:"hours"`
}

// PreferenceVector is a worker's inferred affinities. It is always rebuilt
// as a whole; callers must not edit one in place.
type PreferenceVector struct {
	WorkerID        string             `json:"workerId"`
	CategoryScores  map[string]float64 `json:"categoryScores"`
	WageRange       WageRange          `json:"wageRange"`
	LocationScores  map[string]float64 `json:"locationScores"`
	ActivityPattern ActivityPattern    `json:"activityPattern"`
}

// MatchDetails keeps every sub-score so reasons can be derived later.
type MatchDetails struct {
	CategoryScore    float64 `json:"categoryScore"`
	LocationScore    float64 `json:"locationScore"`
	WageScore        float64 `json:"wageScore"`
	RatingScore      float64 `json:"ratingScore"`
	CompetitionScore float64 `json:"competitionScore"`
	IsUrgent         bool    `json:"isUrgent"`
	CompetitionLevel int     `json:"competitionLevel"`
}

// MatchCandidate is a scored posting produced for a single call.
type MatchCandidate struct {
	Job                  JobPosting   `json:"job"`
	Score                float64      `json:"score"`
	MatchDetails         MatchDetails `json:"matchDetails"`
	RecommendationReason []string     `json:"recommendationReason"`
}
