package sim

import (
	"container/heap"
	"time"
)

// ScheduleEntry binds a future fire time to a device.
// Index addresses the generator's device slice; the heap never owns devices.
type ScheduleEntry struct {
	FireAt time.Time
	Index  int
}

// ScheduleHeap implements a priority queue with deterministic ordering
// Ordering: fire time → device index
type ScheduleHeap struct {
	entries []ScheduleEntry
}

// NewScheduleHeap creates an empty heap with room for capacity entries.
func NewScheduleHeap(capacity int) *ScheduleHeap {
	h := &ScheduleHeap{
		entries: make([]ScheduleEntry, 0, capacity),
	}
	heap.Init(h)
	return h
}

// Len implements heap.Interface
func (h *ScheduleHeap) Len() int {
	return len(h.entries)
}

// Less implements heap.Interface with deterministic ordering
func (h *ScheduleHeap) Less(i, j int) bool {
	ei, ej := h.entries[i], h.entries[j]

	// Primary: fire time (earlier first)
	if !ei.FireAt.Equal(ej.FireAt) {
		return ei.FireAt.Before(ej.FireAt)
	}

	// Secondary: device index (lower first, deterministic tie-breaker)
	return ei.Index < ej.Index
}

// Swap implements heap.Interface
func (h *ScheduleHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
}

// Push implements heap.Interface
func (h *ScheduleHeap) Push(x any) {
	h.entries = append(h.entries, x.(ScheduleEntry))
}

// Pop implements heap.Interface
func (h *ScheduleHeap) Pop() any {
	old := h.entries
	n := len(old)
	item := old[n-1]
	h.entries = old[0 : n-1]
	return item
}

// Schedule adds an entry to the heap
func (h *ScheduleHeap) Schedule(e ScheduleEntry) {
	heap.Push(h, e)
}

// PopNext removes and returns the earliest entry.
// ok is false when the heap is empty.
func (h *ScheduleHeap) PopNext() (e ScheduleEntry, ok bool) {
	if h.Len() == 0 {
		return ScheduleEntry{}, false
	}
	return heap.Pop(h).(ScheduleEntry), true
}

// Peek returns the earliest entry without removing it
func (h *ScheduleHeap) Peek() (e ScheduleEntry, ok bool) {
	if h.Len() == 0 {
		return ScheduleEntry{}, false
	}
	return h.entries[0], true
}
