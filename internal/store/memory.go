package store

import (
	"context"
	"sort"
	"sync"

	"onetime/matching-service/internal/model"
)

// Memory is an in-process Reader. It backs tests and local runs without a
// database; AddJob lets a test simulate a posting arriving.
type Memory struct {
	mu           sync.RWMutex
	jobs         map[string]model.JobPosting
	applications []model.Application
	sessions     []model.WorkSession
}

// NewMemory returns a Memory seeded with jobs.
func NewMemory(jobs ...model.JobPosting) *Memory {
	m := &Memory{jobs: make(map[string]model.JobPosting)}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *Memory) AddJob(j model.JobPosting) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
}

func (m *Memory) AddApplication(a model.Application) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applications = append(m.applications, a)
}

func (m *Memory) AddWorkSession(ws model.WorkSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, ws)
}

// sortedJobs returns postings newest first, then by id.
func (m *Memory) sortedJobs(keep func(model.JobPosting) bool) []model.JobPosting {
	out := make([]model.JobPosting, 0, len(m.jobs))
	for _, j := range m.jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out
}

func (m *Memory) OpenJobs(_ context.Context) ([]model.JobPosting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedJobs(model.JobPosting.IsOpen), nil
}

func (m *Memory) Job(_ context.Context, id string) (*model.JobPosting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &j, nil
}

func (m *Memory) History(_ context.Context, workerID string) (model.History, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var h model.History
	for _, a := range m.applications {
		if a.WorkerID == workerID {
			h.Applications = append(h.Applications, a)
		}
	}
	for _, ws := range m.sessions {
		if ws.WorkerID == workerID && ws.Completed {
			h.WorkSessions = append(h.WorkSessions, ws)
		}
	}
	return h, nil
}

func (m *Memory) WorkersByTopCategories(_ context.Context, categories []string, top int, exclude string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[string]bool, len(categories))
	for _, c := range categories {
		wanted[c] = true
	}

	counts := make(map[string]map[string]int)
	var order []string
	for _, a := range m.applications {
		if a.WorkerID == exclude {
			continue
		}
		if counts[a.WorkerID] == nil {
			counts[a.WorkerID] = make(map[string]int)
			order = append(order, a.WorkerID)
		}
		counts[a.WorkerID][a.Category]++
	}

	var ids []string
	for _, w := range order {
		for _, c := range topByCount(counts[w], top) {
			if wanted[c] {
				ids = append(ids, w)
				break
			}
		}
	}
	return ids, nil
}

// topByCount returns up to n keys by descending count, ties by name.
func topByCount(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:max(n, 0)]
	}
	return keys
}

func (m *Memory) AcceptedJobs(_ context.Context, workerIDs []string) ([]model.JobPosting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	workers := make(map[string]bool, len(workerIDs))
	for _, id := range workerIDs {
		workers[id] = true
	}
	accepted := make(map[string]bool)
	for _, a := range m.applications {
		if workers[a.WorkerID] && a.Status == model.ApplicationAccepted {
			accepted[a.JobID] = true
		}
	}
	return m.sortedJobs(func(j model.JobPosting) bool { return accepted[j.ID] }), nil
}
