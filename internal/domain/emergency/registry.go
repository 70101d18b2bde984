package emergency

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type caseEntry struct {
	mu sync.Mutex
	c  *Case
}

// Registry is the in-memory CaseRepository. Cases are kept in id order and
// indexed by id; each case carries its own lock for status changes.
type Registry struct {
	seq   atomic.Int64
	mu    sync.RWMutex
	cases []*caseEntry
	index map[int64]*caseEntry
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[int64]*caseEntry)}
}

// NextID returns the next case id, starting at 1.
func (r *Registry) NextID() int64 {
	return r.seq.Add(1)
}

func (r *Registry) Append(c *Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[c.ID]; ok {
		return fmt.Errorf("case %d already exists", c.ID)
	}
	e := &caseEntry{c: c}
	// Ids are handed out before Append, so concurrent creators can arrive
	// out of order. Keep the slice sorted by id.
	i := len(r.cases)
	for i > 0 && r.cases[i-1].c.ID > c.ID {
		i--
	}
	r.cases = append(r.cases, nil)
	copy(r.cases[i+1:], r.cases[i:])
	r.cases[i] = e
	r.index[c.ID] = e
	return nil
}

func (r *Registry) lookup(id int64) (*caseEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.index[id]
	return e, ok
}

// Find returns a copy of the case, or false if no case has that id.
func (r *Registry) Find(id int64) (*Case, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.c.clone(), true
}

// Filter returns copies of the cases matching pred, oldest id first.
func (r *Registry) Filter(pred func(*Case) bool) []*Case {
	r.mu.RLock()
	entries := make([]*caseEntry, len(r.cases))
	copy(entries, r.cases)
	r.mu.RUnlock()

	var out []*Case
	for _, e := range entries {
		e.mu.Lock()
		snap := e.c.clone()
		e.mu.Unlock()
		if pred == nil || pred(snap) {
			out = append(out, snap)
		}
	}
	return out
}

func (r *Registry) Update(id int64, fn func(*Case) error) (*Case, error) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, ErrCaseNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(e.c); err != nil {
		return nil, err
	}
	return e.c.clone(), nil
}
