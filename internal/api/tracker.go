package api

import (
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"ide-sandbox/internal/storage"
)

// defaultRetention is how long finished executions stay in memory.
const defaultRetention = time.Hour

// Tracker holds executions started by this process. It stores copies, so
// callers may keep modifying the records they pass in.
type Tracker struct {
	execs     *xsync.MapOf[string, *storage.Execution]
	retention time.Duration
}

func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Tracker{
		execs:     xsync.NewMapOf[string, *storage.Execution](),
		retention: retention,
	}
}

func (t *Tracker) Put(e *storage.Execution) {
	c := *e
	t.execs.Store(e.ID, &c)
}

// Claim stores e unless an unfinished execution with the same id is
// tracked. Check and store happen in one step.
func (t *Tracker) Claim(e *storage.Execution) bool {
	claimed := false
	t.execs.Compute(e.ID, func(old *storage.Execution, loaded bool) (*storage.Execution, bool) {
		if loaded && !old.Done() {
			return old, false
		}
		claimed = true
		c := *e
		return &c, false
	})
	return claimed
}

func (t *Tracker) Get(id string) (*storage.Execution, bool) {
	e, ok := t.execs.Load(id)
	if !ok {
		return nil, false
	}
	c := *e
	return &c, true
}

func (t *Tracker) Delete(id string) {
	t.execs.Delete(id)
}

// Update applies fn to the stored record. It reports false for unknown ids.
func (t *Tracker) Update(id string, fn func(e *storage.Execution)) bool {
	found := false
	t.execs.Compute(id, func(old *storage.Execution, loaded bool) (*storage.Execution, bool) {
		if !loaded {
			return nil, true
		}
		found = true
		c := *old
		fn(&c)
		return &c, false
	})
	return found
}

// List returns the records matching filter, newest first.
func (t *Tracker) List(filter storage.ExecutionFilter) []storage.Execution {
	var out []storage.Execution
	t.execs.Range(func(_ string, e *storage.Execution) bool {
		if filter.Language != "" && e.Language != filter.Language {
			return true
		}
		if filter.Status != "" && e.Status != filter.Status {
			return true
		}
		out = append(out, *e)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []storage.Execution{}
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	if out == nil {
		out = []storage.Execution{}
	}
	return out
}

// Prune drops finished executions that completed before now minus the
// retention window and returns how many were removed.
func (t *Tracker) Prune(now time.Time) int {
	cutoff := now.Add(-t.retention)
	removed := 0
	t.execs.Range(func(id string, e *storage.Execution) bool {
		if e.Done() && e.CompletedAt != nil && e.CompletedAt.Before(cutoff) {
			t.execs.Delete(id)
			removed++
		}
		return true
	})
	return removed
}

func (t *Tracker) Len() int {
	return t.execs.Size()
}
