package engine

import "sync"

// JobTracker detects job changes from the job name carried by each snapshot.
//
// A change fires when a non-empty name differs from the name carried by the
// previous snapshot. An idle report (empty name) never fires but does end the
// job, so printing the same file again after going idle counts as a new job.
// State is updated before Observe returns, so a second report for a running
// job can never trigger job-scoped effects again.
type JobTracker struct {
	mu      sync.Mutex
	prev    string // name from the previous snapshot, may be empty
	current string // last non-empty name
}

// NewJobTracker creates a tracker with no job seen yet.
func NewJobTracker() *JobTracker {
	return &JobTracker{}
}

// Observe records name and reports whether it starts a new job. previous is
// the last non-empty job name before this one.
func (t *JobTracker) Observe(name string) (previous string, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	last := t.prev
	t.prev = name
	if name == "" || name == last {
		return t.current, false
	}
	previous = t.current
	t.current = name
	return previous, true
}

// Current returns the last non-empty job name seen.
func (t *JobTracker) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}
