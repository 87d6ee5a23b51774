package matching

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Rescan searches again for every QUEUED worker, a few at a time. Workers
// that now have candidates leave the queue with fresh sessions. It returns
// how many workers were matched.
func (q *Queue) Rescan(ctx context.Context) (int, error) {
	var snapshot []QueueEntry
	err := q.do(ctx, func(st *state) {
		snapshot = make([]QueueEntry, 0, len(st.entries))
		for _, e := range st.entries {
			snapshot = append(snapshot, *e)
		}
	})
	if err != nil {
		return 0, err
	}

	var matched atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(q.opts.RescanParallelism)
	for _, e := range snapshot {
		g.Go(func() error {
			ok, err := q.rescanEntry(ctx, e)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					q.log.Warn("rescan failed (non-fatal)", "worker_id", e.WorkerID, "err", err)
				}
				return nil
			}
			if ok {
				matched.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(matched.Load())
	if n > 0 {
		q.log.Info("rescan matched queued workers", "matched", n, "queued", len(snapshot))
	}
	return n, ctx.Err()
}

// rescanEntry searches under the entry's own context, so Leave cancels an
// in-flight search.
func (q *Queue) rescanEntry(ctx context.Context, e QueueEntry) (bool, error) {
	sctx, cancel := context.WithCancel(e.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	candidates, err := q.search(sctx, e.WorkerID, e.Preferences)
	if err != nil {
		return false, err
	}
	if len(candidates) == 0 {
		return false, nil
	}

	matched := false
	err = q.do(ctx, func(st *state) {
		live, ok := st.entries[e.WorkerID]
		if !ok || live.ID != e.ID || sctx.Err() != nil {
			return
		}
		candidates = q.withoutLiveSessions(st, e.WorkerID, candidates)
		if len(candidates) == 0 {
			return
		}
		live.cancel()
		delete(st.entries, e.WorkerID)
		sessions := q.openSessions(st, e.WorkerID, e.ID, candidates)
		q.log.Info("queued worker matched", "worker_id", e.WorkerID, "sessions", len(sessions))
		matched = true
	})
	return matched, err
}

// ExpireSweep removes queue entries older than the entry TTL, expires
// PENDING sessions past the response window and prunes resolved sessions
// past the retention. It returns how many sessions expired.
func (q *Queue) ExpireSweep(ctx context.Context) (int, error) {
	expired := 0
	err := q.do(ctx, func(st *state) {
		now := q.now().UTC()
		for workerID, e := range st.entries {
			if now.Sub(e.JoinedAt) < q.opts.EntryTTL {
				continue
			}
			e.cancel()
			delete(st.entries, workerID)
			q.publishLeft(workerID, msgQueueTimedOut)
			q.log.Info("queue entry timed out", "worker_id", workerID, "joined_at", e.JoinedAt)
		}
		for id, s := range st.sessions {
			if s.Status == StatusPending && now.Sub(s.CreatedAt) >= q.opts.ResponseWindow {
				q.expire(s, now)
				expired++
				continue
			}
			if IsTerminal(s.Status) && now.Sub(s.closedAt) >= q.opts.ResolvedRetention {
				delete(st.sessions, id)
			}
		}
	})
	return expired, err
}
