package manager

import (
	"container/heap"
	"time"

	"github.com/fairwaylabs/coursehound/internal/types"
)

// RequestSlot is one scrape waiting for a dispatch slot. A slot whose
// DeferredUntil lies in the future is parked (usually for domain pacing)
// and skipped until the deferral elapses.
type RequestSlot struct {
	Target        *types.ScrapingTarget
	Priority      types.Priority
	Domain        string
	RequiredDelay time.Duration
	EnqueuedAt    time.Time
	DeferredUntil time.Time

	ready chan struct{}
	index int
}

// requestQueue is a heap ordered by priority (highest first), then by
// enqueue time (oldest first) within a priority band.
type requestQueue []*RequestSlot

func (q requestQueue) Len() int { return len(q) }

func (q requestQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	return q[i].EnqueuedAt.Before(q[j].EnqueuedAt)
}

func (q requestQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *requestQueue) Push(x any) {
	slot := x.(*RequestSlot)
	slot.index = len(*q)
	*q = append(*q, slot)
}

func (q *requestQueue) Pop() any {
	old := *q
	n := len(old)
	slot := old[n-1]
	old[n-1] = nil
	slot.index = -1
	*q = old[:n-1]
	return slot
}

// popReady removes and returns the best slot whose deferral has elapsed,
// or nil when every queued slot is still parked.
func (q *requestQueue) popReady(now time.Time) *RequestSlot {
	best := -1
	for i := range *q {
		if (*q)[i].DeferredUntil.After(now) {
			continue
		}
		if best < 0 || q.Less(i, best) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	return heap.Remove(q, best).(*RequestSlot)
}

// earliestDeferral returns the soonest wake-up time among parked slots.
func (q *requestQueue) earliestDeferral(now time.Time) (time.Time, bool) {
	var earliest time.Time
	found := false
	for i := range *q {
		until := (*q)[i].DeferredUntil
		if !until.After(now) {
			continue
		}
		if !found || until.Before(earliest) {
			earliest = until
			found = true
		}
	}
	return earliest, found
}

// remove drops a slot that is still queued. Returns false if the slot was
// already granted.
func (q *requestQueue) remove(slot *RequestSlot) bool {
	if slot.index < 0 {
		return false
	}
	heap.Remove(q, slot.index)
	return true
}
