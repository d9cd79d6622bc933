package scheduler

import (
	"sync"
	"time"
)

// TenantRun is the outcome of one tenant within a scheduled pass.
type TenantRun struct {
	TenantID     string `json:"tenant_id"`
	AssessmentID string `json:"assessment_id,omitempty"`
	Version      int    `json:"version,omitempty"`
	Grade        string `json:"grade,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Run is one pass over every configured tenant.
type Run struct {
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Tenants    []TenantRun `json:"tenants"`
	Failed     int         `json:"failed"`
}

// History is a fixed-capacity, thread-safe ring of recent runs.
type History struct {
	mu       sync.RWMutex
	buf      []Run
	capacity int
	head     int // next write position
	count    int // number of valid entries
}

// NewHistory creates a History keeping at most capacity runs. A capacity
// below 1 is raised to 1.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{
		buf:      make([]Run, capacity),
		capacity: capacity,
	}
}

// Add records r, overwriting the oldest run when the history is full.
func (h *History) Add(r Run) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.head] = r
	h.head = (h.head + 1) % h.capacity
	if h.count < h.capacity {
		h.count++
	}
}

// All returns the recorded runs, most recent first.
func (h *History) All() []Run {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]Run, 0, h.count)
	for i := 0; i < h.count; i++ {
		idx := (h.head - 1 - i + h.capacity) % h.capacity
		r := h.buf[idx]
		r.Tenants = append([]TenantRun(nil), r.Tenants...)
		result = append(result, r)
	}
	return result
}

// Len returns the number of runs held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
