package matching

import (
	"context"
	"errors"
	"strings"
	"time"

	"onetime/matching-service/internal/model"
	"onetime/matching-service/internal/notify"
	"onetime/matching-service/internal/store"
)

// Respond applies a worker's accept/reject to one of their sessions.
//
// Returns ErrNotFound if the session does not exist or belongs to someone
// else, and *InvalidStateError if it is no longer PENDING. A response that
// arrives after the response window expires the session and is rejected as
// stale.
func (q *Queue) Respond(ctx context.Context, workerID, sessionID, response string, message *string) (Session, error) {
	r, err := ParseResponse(strings.TrimSpace(response))
	if err != nil {
		return Session{}, &ValidationError{Field: "response", Msg: msgInvalidResponse}
	}
	if message != nil {
		m := strings.TrimSpace(*message)
		message = &m
		if m == "" {
			message = nil
		}
	}

	var fresh *model.JobPosting
	if r == ResponseAccept {
		fresh = q.currentJob(ctx, workerID, sessionID)
	}

	var (
		out    Session
		result error
	)
	err = q.do(ctx, func(st *state) {
		s, ok := st.sessions[sessionID]
		if !ok || s.WorkerID != workerID {
			result = ErrNotFound
			return
		}
		if s.Status != StatusPending {
			result = &InvalidStateError{SessionID: s.ID, Status: s.Status}
			return
		}

		now := q.now().UTC()
		if now.Sub(s.CreatedAt) >= q.opts.ResponseWindow {
			q.expire(s, now)
			result = &InvalidStateError{SessionID: s.ID, Status: s.Status}
			return
		}

		to := r.target()
		if !IsTransitionAllowed(s.Status, to) {
			result = &InvalidStateError{SessionID: s.ID, Status: s.Status}
			return
		}
		if fresh != nil && fresh.ID == s.Job.ID {
			s.Job = *fresh
		}
		s.Status = to
		s.RespondedAt = &now
		s.Message = message
		s.closedAt = now

		q.emitResponse(s, r)
		if r == ResponseAccept && q.opts.CascadeOnAccept {
			q.cascade(st, s, now)
		}
		q.log.Info("match session resolved",
			"session_id", s.ID, "worker_id", s.WorkerID, "job_id", s.Job.ID, "status", s.Status)
		out = *s
	})
	if err != nil {
		return Session{}, err
	}
	return out, result
}

// currentJob re-reads the session's posting so an acceptance carries the
// posting as it is now rather than as it was when matched. Any failure
// leaves the matched snapshot in place.
func (q *Queue) currentJob(ctx context.Context, workerID, sessionID string) *model.JobPosting {
	s, err := q.Session(ctx, workerID, sessionID)
	if err != nil {
		return nil
	}
	j, err := q.store.Job(ctx, s.Job.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			q.log.Warn("posting refresh failed (non-fatal)", "job_id", s.Job.ID, "err", err)
		}
		return nil
	}
	return j
}

// emitResponse tells the worker's room, and the employer's when known, how
// the session was resolved.
func (q *Queue) emitResponse(s *Session, r Response) {
	rooms := []string{s.WorkerID}
	if s.Job.EmployerID != "" && s.Job.EmployerID != s.WorkerID {
		rooms = append(rooms, s.Job.EmployerID)
	}
	for _, room := range rooms {
		var ev notify.Event
		if r == ResponseAccept {
			ev = notify.NewEvent(notify.EventMatchAccepted, room, notify.MatchAcceptedPayload{
				MatchID: s.ID,
				Job:     s.Job,
				Message: messageOr(s.Message, msgMatchAccepted),
			})
		} else {
			ev = notify.NewEvent(notify.EventMatchRejected, room, notify.MatchRejectedPayload{
				MatchID: s.ID,
				Message: messageOr(s.Message, msgMatchRejected),
			})
		}
		q.publish(ev.WithSession(s.ID))
	}
}

// cascade expires the PENDING siblings of an accepted session.
func (q *Queue) cascade(st *state, accepted *Session, now time.Time) {
	for _, s := range st.sessions {
		if s.ID == accepted.ID || s.EntryID != accepted.EntryID || s.WorkerID != accepted.WorkerID {
			continue
		}
		if s.Status == StatusPending {
			q.expire(s, now)
		}
	}
}

// expire moves a PENDING session to EXPIRED. Runs on the actor.
func (q *Queue) expire(s *Session, now time.Time) {
	if !IsTransitionAllowed(s.Status, StatusExpired) {
		return
	}
	s.Status = StatusExpired
	s.closedAt = now
	q.log.Info("match session expired", "session_id", s.ID, "worker_id", s.WorkerID, "job_id", s.Job.ID)
}

func messageOr(m *string, fallback string) string {
	if m != nil {
		return *m
	}
	return fallback
}
