// Package store is the read-only view of the platform database used by the
// matching core. Postings, applications and work sessions are owned and
// written by other services.
package store

import (
	"context"
	"errors"

	"onetime/matching-service/internal/model"
)

// ErrNotFound is returned when a posting does not exist.
var ErrNotFound = errors.New("record not found")

// Reader is everything the matching core reads.
type Reader interface {
	// OpenJobs lists every OPEN posting.
	OpenJobs(ctx context.Context) ([]model.JobPosting, error)
	// Job returns a single posting regardless of status.
	Job(ctx context.Context, id string) (*model.JobPosting, error)
	// History returns the worker's applications and completed work sessions.
	History(ctx context.Context, workerID string) (model.History, error)
	// WorkersByTopCategories lists workers, other than exclude, whose own top
	// categories (at most top, ranked by application count, ties by name)
	// include any of categories.
	WorkersByTopCategories(ctx context.Context, categories []string, top int, exclude string) ([]string, error)
	// AcceptedJobs lists postings for which any of the workers had an
	// ACCEPTED application.
	AcceptedJobs(ctx context.Context, workerIDs []string) ([]model.JobPosting, error)
}
