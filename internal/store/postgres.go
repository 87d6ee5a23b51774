package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"onetime/matching-service/internal/model"
)

// Postgres reads from the platform database through a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Postgres reader.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// jobColumns selects a posting with its employer rating and live applicant count.
const jobColumns = `
	SELECT j.id, COALESCE(j.employer_id::text, ''), j.title, j.category, j.location,
	       j.hourly_wage, j.is_urgent, ep.rating,
	       (SELECT COUNT(*) FROM applications a WHERE a.job_id = j.id)::int,
	       j.status, j.latitude, j.longitude, j.created_at
	FROM jobs j
	LEFT JOIN employer_profiles ep ON ep.user_id = j.employer_id`

func scanJob(row pgx.Row) (model.JobPosting, error) {
	var j model.JobPosting
	var status string
	err := row.Scan(
		&j.ID, &j.EmployerID, &j.Title, &j.Category, &j.Location,
		&j.Wage, &j.Urgent, &j.EmployerRating,
		&j.ApplicantCount,
		&status, &j.Latitude, &j.Longitude, &j.CreatedAt,
	)
	j.Status = model.JobStatus(status)
	return j, err
}

func collectJobs(rows pgx.Rows) ([]model.JobPosting, error) {
	defer rows.Close()

	jobs := make([]model.JobPosting, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (p *Postgres) OpenJobs(ctx context.Context) ([]model.JobPosting, error) {
	rows, err := p.pool.Query(ctx, jobColumns+` WHERE j.status = 'OPEN' ORDER BY j.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("openJobs query: %w", err)
	}
	return collectJobs(rows)
}

func (p *Postgres) Job(ctx context.Context, id string) (*model.JobPosting, error) {
	j, err := scanJob(p.pool.QueryRow(ctx, jobColumns+` WHERE j.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("job query: %w", err)
	}
	return &j, nil
}

func (p *Postgres) History(ctx context.Context, workerID string) (model.History, error) {
	var h model.History

	rows, err := p.pool.Query(ctx,
		`SELECT a.id, a.job_id, a.worker_id, j.category, j.location, j.hourly_wage,
		        a.status, a.created_at
		 FROM applications a
		 JOIN jobs j ON j.id = a.job_id
		 WHERE a.worker_id = $1
		 ORDER BY a.created_at DESC`,
		workerID,
	)
	if err != nil {
		return h, fmt.Errorf("history applications query: %w", err)
	}
	for rows.Next() {
		var a model.Application
		var status string
		if err := rows.Scan(
			&a.ID, &a.JobID, &a.WorkerID, &a.Category, &a.Location, &a.Wage,
			&status, &a.AppliedAt,
		); err != nil {
			rows.Close()
			return h, fmt.Errorf("history applications scan: %w", err)
		}
		a.Status = model.ApplicationStatus(status)
		h.Applications = append(h.Applications, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return h, fmt.Errorf("history applications rows: %w", err)
	}

	rows, err = p.pool.Query(ctx,
		`SELECT ws.id, ws.job_id, ws.worker_id, j.hourly_wage, ws.started_at
		 FROM work_sessions ws
		 JOIN jobs j ON j.id = ws.job_id
		 WHERE ws.worker_id = $1 AND ws.status = 'COMPLETED'
		 ORDER BY ws.started_at DESC`,
		workerID,
	)
	if err != nil {
		return h, fmt.Errorf("history work sessions query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		ws := model.WorkSession{Completed: true}
		if err := rows.Scan(&ws.ID, &ws.JobID, &ws.WorkerID, &ws.Wage, &ws.StartedAt); err != nil {
			return h, fmt.Errorf("history work sessions scan: %w", err)
		}
		h.WorkSessions = append(h.WorkSessions, ws)
	}
	return h, rows.Err()
}

func (p *Postgres) WorkersByTopCategories(ctx context.Context, categories []string, top int, exclude string) ([]string, error) {
	if len(categories) == 0 || top < 1 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx,
		`WITH counts AS (
		   SELECT a.worker_id::text AS worker_id, j.category, COUNT(*) AS n
		   FROM applications a
		   JOIN jobs j ON j.id = a.job_id
		   WHERE a.worker_id::text <> $2
		   GROUP BY a.worker_id, j.category
		 ), ranked AS (
		   SELECT worker_id, category,
		          ROW_NUMBER() OVER (PARTITION BY worker_id ORDER BY n DESC, category) AS rk
		   FROM counts
		 )
		 SELECT DISTINCT worker_id
		 FROM ranked
		 WHERE rk <= $3 AND category = ANY($1)`,
		categories, exclude, top,
	)
	if err != nil {
		return nil, fmt.Errorf("workersByTopCategories query: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("workersByTopCategories scan: %w", err)
	}
	return ids, nil
}

func (p *Postgres) AcceptedJobs(ctx context.Context, workerIDs []string) ([]model.JobPosting, error) {
	if len(workerIDs) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, jobColumns+`
		WHERE j.id IN (
		  SELECT a.job_id FROM applications a
		  WHERE a.worker_id = ANY($1) AND a.status = 'ACCEPTED'
		)
		ORDER BY j.created_at DESC`,
		workerIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("acceptedJobs query: %w", err)
	}
	return collectJobs(rows)
}
