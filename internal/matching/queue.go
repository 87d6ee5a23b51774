package matching

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"onetime/matching-service/internal/logger"
	"onetime/matching-service/internal/model"
	"onetime/matching-service/internal/notify"
	"onetime/matching-service/internal/preference"
	"onetime/matching-service/internal/scoring"
	"onetime/matching-service/internal/store"
)

// ErrStopped is returned when the queue is not running.
var ErrStopped = errors.New("matching queue stopped")

// User-facing event messages.
const (
	msgLocationRequired = "근무 지역을 입력해주세요"
	msgInvalidSalary    = "희망 급여 값이 올바르지 않습니다"
	msgInvalidResponse  = "응답은 accept 또는 reject 중 하나여야 합니다"
	msgMatchingFound    = "조건에 맞는 일자리를 찾았습니다"
	msgMatchRequest     = "새로운 매칭 요청이 도착했습니다"
	msgQueueJoined      = "매칭 대기열에 등록되었습니다. 새로운 일자리가 등록되면 알려드릴게요"
	msgQueueLeft        = "매칭 대기열에서 나왔습니다"
	msgQueueTimedOut    = "매칭 대기 시간이 만료되어 대기열에서 나왔습니다"
	msgMatchAccepted    = "매칭이 수락되었습니다"
	msgMatchRejected    = "매칭이 거절되었습니다"
)

// Publisher delivers events to a user identity's room.
type Publisher interface {
	Publish(ev notify.Event)
}

// Preferences are what a worker submits when joining the queue.
type Preferences struct {
	Location       string   `json:"location"`
	Category       string   `json:"category,omitempty"`
	ExpectedSalary int      `json:"expectedSalary,omitempty"`
	MaxDistance    float64  `json:"maxDistance,omitempty"` // km
	UrgentOnly     bool     `json:"urgentOnly,omitempty"`
	AvailableTime  []string `json:"availableTime,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
}

// QueueEntry is a worker's live-search registration.
type QueueEntry struct {
	ID          string      `json:"id"`
	WorkerID    string      `json:"workerId"`
	Preferences Preferences `json:"preferences"`
	JoinedAt    time.Time   `json:"joinedAt"`

	ctx    context.Context
	cancel context.CancelFunc
}

// Session is one proposed pairing of a worker with a posting.
type Session struct {
	ID           string             `json:"id"`
	EntryID      string             `json:"entryId"`
	WorkerID     string             `json:"workerId"`
	Job          model.JobPosting   `json:"job"`
	Score        float64            `json:"score"`
	MatchDetails model.MatchDetails `json:"matchDetails"`
	Status       SessionStatus      `json:"status"`
	CreatedAt    time.Time          `json:"createdAt"`
	RespondedAt  *time.Time         `json:"respondedAt,omitempty"`
	Message      *string            `json:"message,omitempty"`

	closedAt time.Time
}

// JoinResult is the synchronous answer to Join.
type JoinResult struct {
	Status   QueueState             `json:"status"`
	Matches  []model.MatchCandidate `json:"matches,omitempty"`
	Sessions []Session              `json:"sessions,omitempty"`
}

// StatusView is a worker's queue state and visible sessions.
type StatusView struct {
	Status   QueueState  `json:"status"`
	Entry    *QueueEntry `json:"entry,omitempty"`
	Sessions []Session   `json:"sessions"`
}

// Options tune the queue; zero values fall back to defaults.
type Options struct {
	Threshold         float64
	MaxCandidates     int
	ResponseWindow    time.Duration
	ResolvedRetention time.Duration
	// EntryTTL is how long a worker may stay QUEUED before the sweep
	// removes the entry.
	EntryTTL          time.Duration
	RescanParallelism int
	// CascadeOnAccept expires a worker's sibling PENDING sessions from the
	// same entry once one of them is accepted.
	CascadeOnAccept bool
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = 0.6
	}
	if o.MaxCandidates < 1 {
		o.MaxCandidates = 5
	}
	if o.ResponseWindow <= 0 {
		o.ResponseWindow = 5 * time.Minute
	}
	if o.ResolvedRetention <= 0 {
		o.ResolvedRetention = time.Hour
	}
	if o.EntryTTL <= 0 {
		o.EntryTTL = 30 * time.Minute
	}
	if o.RescanParallelism < 1 {
		o.RescanParallelism = 4
	}
	return o
}

// state is owned by the Run goroutine.
type state struct {
	ctx      context.Context
	entries  map[string]*QueueEntry // by worker id
	sessions map[string]*Session    // by session id
}

// Queue is the single authority over queue entries and match sessions.
// Every read and mutation runs on the Run goroutine; store reads and scoring
// happen on the caller's goroutine before the result is handed over.
type Queue struct {
	store    store.Reader
	analyzer *preference.Analyzer
	engine   *scoring.Engine
	pub      Publisher
	log      *logger.Logger
	opts     Options
	now      func() time.Time

	cmds chan func(*state)
	done chan struct{}
}

func NewQueue(st store.Reader, analyzer *preference.Analyzer, engine *scoring.Engine, pub Publisher, opts Options, log *logger.Logger) *Queue {
	if log == nil {
		log = logger.Nop()
	}
	if analyzer == nil {
		analyzer = preference.NewAnalyzer(nil)
	}
	return &Queue{
		store:    st,
		analyzer: analyzer,
		engine:   engine,
		pub:      pub,
		log:      log.With("component", "MatchingQueue"),
		opts:     opts.withDefaults(),
		now:      time.Now,
		cmds:     make(chan func(*state)),
		done:     make(chan struct{}),
	}
}

// SetClock replaces the time source. Call before Run.
func (q *Queue) SetClock(now func() time.Time) { q.now = now }

// Run processes commands until ctx is cancelled. Entry searches are
// cancelled with it.
func (q *Queue) Run(ctx context.Context) error {
	defer close(q.done)
	st := &state{
		ctx:      ctx,
		entries:  make(map[string]*QueueEntry),
		sessions: make(map[string]*Session),
	}
	for {
		select {
		case <-ctx.Done():
			for _, e := range st.entries {
				e.cancel()
			}
			return nil
		case cmd := <-q.cmds:
			cmd(st)
		}
	}
}

// do runs fn on the actor goroutine and waits for it to finish.
func (q *Queue) do(ctx context.Context, fn func(*state)) error {
	finished := make(chan struct{})
	cmd := func(st *state) {
		defer close(finished)
		fn(st)
	}
	select {
	case q.cmds <- cmd:
	case <-q.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (q *Queue) publish(ev notify.Event) {
	if q.pub != nil {
		q.pub.Publish(ev)
	}
}

func (q *Queue) publishLeft(workerID, msg string) {
	q.publish(notify.NewEvent(notify.EventQueueLeft, workerID, notify.QueuePayload{
		Message: msg,
		Status:  string(StateIdle),
	}))
}

// Join validates prefs, searches immediately and either opens sessions
// (MATCHED) or registers a queue entry (QUEUED).
func (q *Queue) Join(ctx context.Context, workerID string, prefs Preferences) (JoinResult, error) {
	prefs.Location = strings.TrimSpace(prefs.Location)
	prefs.Category = strings.TrimSpace(prefs.Category)
	if prefs.Location == "" {
		return JoinResult{}, &ValidationError{Field: "location", Msg: msgLocationRequired}
	}
	if prefs.ExpectedSalary < 0 {
		return JoinResult{}, &ValidationError{Field: "expectedSalary", Msg: msgInvalidSalary}
	}

	candidates, err := q.search(ctx, workerID, prefs)
	if err != nil {
		return JoinResult{}, err
	}

	entryID := uuid.NewString()
	var res JoinResult
	err = q.do(ctx, func(st *state) {
		old, replaced := st.entries[workerID]
		if replaced {
			old.cancel()
			delete(st.entries, workerID)
		}

		candidates = q.withoutLiveSessions(st, workerID, candidates)
		if len(candidates) > 0 {
			if replaced {
				q.publishLeft(workerID, msgQueueLeft)
			}
			sessions := q.openSessions(st, workerID, entryID, candidates)
			res = JoinResult{Status: StateMatched, Matches: candidates, Sessions: sessions}
			q.log.Info("worker matched on join", "worker_id", workerID, "sessions", len(sessions))
			return
		}

		ectx, cancel := context.WithCancel(st.ctx)
		st.entries[workerID] = &QueueEntry{
			ID:          entryID,
			WorkerID:    workerID,
			Preferences: prefs,
			JoinedAt:    q.now().UTC(),
			ctx:         ectx,
			cancel:      cancel,
		}
		res = JoinResult{Status: StateQueued}
		q.publish(notify.NewEvent(notify.EventQueueJoined, workerID, notify.QueuePayload{
			Message: msgQueueJoined,
			Status:  string(StateQueued),
		}))
		q.log.Info("worker queued", "worker_id", workerID, "location", prefs.Location)
	})
	if err != nil {
		return JoinResult{}, err
	}
	return res, nil
}

// Leave removes the worker's entry and cancels its search. Sessions are kept.
func (q *Queue) Leave(ctx context.Context, workerID string) (QueueState, error) {
	err := q.do(ctx, func(st *state) {
		e, ok := st.entries[workerID]
		if !ok {
			return
		}
		e.cancel()
		delete(st.entries, workerID)
		q.publishLeft(workerID, msgQueueLeft)
		q.log.Info("worker left queue", "worker_id", workerID)
	})
	if err != nil {
		return "", err
	}
	return StateIdle, nil
}

// Status reports the worker's queue state and visible sessions.
func (q *Queue) Status(ctx context.Context, workerID string) (StatusView, error) {
	var view StatusView
	err := q.do(ctx, func(st *state) {
		view.Sessions = visibleSessions(st, workerID)
		view.Status = StateIdle
		if e, ok := st.entries[workerID]; ok {
			cp := *e
			view.Entry = &cp
			view.Status = StateQueued
			return
		}
		for _, s := range view.Sessions {
			if s.Status == StatusPending {
				view.Status = StateMatched
				break
			}
		}
	})
	return view, err
}

// Sessions lists the worker's non-expired sessions, newest first.
func (q *Queue) Sessions(ctx context.Context, workerID string) ([]Session, error) {
	var out []Session
	err := q.do(ctx, func(st *state) { out = visibleSessions(st, workerID) })
	return out, err
}

// Session returns one session of the worker, expired ones included.
func (q *Queue) Session(ctx context.Context, workerID, sessionID string) (Session, error) {
	var (
		out  Session
		find error
	)
	err := q.do(ctx, func(st *state) {
		s, ok := st.sessions[sessionID]
		if !ok || s.WorkerID != workerID {
			find = ErrNotFound
			return
		}
		out = *s
	})
	if err != nil {
		return Session{}, err
	}
	return out, find
}

func visibleSessions(st *state, workerID string) []Session {
	out := make([]Session, 0)
	for _, s := range st.sessions {
		if s.WorkerID == workerID && s.Status != StatusExpired {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// withoutLiveSessions drops candidates the worker already has a PENDING or
// ACCEPTED session for. Runs on the actor.
func (q *Queue) withoutLiveSessions(st *state, workerID string, candidates []model.MatchCandidate) []model.MatchCandidate {
	live := make(map[string]struct{})
	for _, s := range st.sessions {
		if s.WorkerID == workerID && (s.Status == StatusPending || s.Status == StatusAccepted) {
			live[s.Job.ID] = struct{}{}
		}
	}
	out := make([]model.MatchCandidate, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := live[c.Job.ID]; !dup {
			out = append(out, c)
		}
	}
	return out
}

// openSessions creates one PENDING session per candidate and emits
// matching_found plus one action-required match_request per session to the
// worker. Runs on the actor.
func (q *Queue) openSessions(st *state, workerID, entryID string, candidates []model.MatchCandidate) []Session {
	now := q.now().UTC()
	out := make([]Session, 0, len(candidates))
	for _, c := range candidates {
		s := &Session{
			ID:           uuid.NewString(),
			EntryID:      entryID,
			WorkerID:     workerID,
			Job:          c.Job,
			Score:        c.Score,
			MatchDetails: c.MatchDetails,
			Status:       StatusPending,
			CreatedAt:    now,
		}
		st.sessions[s.ID] = s
		out = append(out, *s)
	}

	q.publish(notify.NewEvent(notify.EventMatchingFound, workerID, notify.MatchingFoundPayload{
		Matches: candidates,
		Message: msgMatchingFound,
	}))
	for _, s := range out {
		q.publish(notify.NewEvent(notify.EventMatchRequest, workerID, notify.MatchRequestPayload{
			MatchID: s.ID,
			Message: msgMatchRequest,
		}).WithSession(s.ID))
	}
	return out
}
