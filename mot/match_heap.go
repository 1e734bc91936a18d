package mot

import (
	"container/heap"

	"github.com/google/uuid"
)

// matchCandidate is a fresh detection together with its best existing track
type matchCandidate[B Blob[B]] struct {
	// Higher is better. Distance based matchers store negated distance
	priority float64
	// Best existing object for the detection (uuid.Nil when tracker is empty)
	bestID uuid.UUID
	blob   B
	index  int
}

// candidateHeap implements heap.Interface as max-heap by priority
type candidateHeap[B Blob[B]] []*matchCandidate[B]

func (h candidateHeap[B]) Len() int { return len(h) }

func (h candidateHeap[B]) Less(i, j int) bool { return h[i].priority > h[j].priority }

func (h candidateHeap[B]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *candidateHeap[B]) Push(x any) {
	item := x.(*matchCandidate[B])
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *candidateHeap[B]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// push adds candidate keeping heap invariant
func (h *candidateHeap[B]) push(candidate *matchCandidate[B]) {
	heap.Push(h, candidate)
}

// pop removes the best candidate
func (h *candidateHeap[B]) pop() *matchCandidate[B] {
	return heap.Pop(h).(*matchCandidate[B])
}
