package upload

import (
	"sort"
	"sync"
)

// runs is the in-memory registry of upload runs.
type runs struct {
	mu   sync.RWMutex
	byID map[string]Report
}

func newRuns() *runs {
	return &runs{byID: make(map[string]Report)}
}

func (r *runs) put(rep Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[rep.ID] = rep
}

func (r *runs) get(id string) (Report, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.byID[id]
	return rep, ok
}

func (r *runs) list() []Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Report, 0, len(r.byID))
	for _, rep := range r.byID {
		out = append(out, rep)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}
