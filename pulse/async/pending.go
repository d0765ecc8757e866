package async

import (
	"container/heap"
	"time"
)

// pendingHeap orders jobs by priority (higher first), then submission order
type pendingHeap []*ImportJob

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}

func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *pendingHeap) Push(x any) {
	job := x.(*ImportJob)
	job.heapIndex = len(*h)
	*h = append(*h, job)
}

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.heapIndex = -1
	*h = old[:n-1]
	return job
}

// popEligible removes and returns the best job whose backoff gate has passed.
// Gated jobs ahead of it are put back.
func (h *pendingHeap) popEligible(now time.Time) *ImportJob {
	var gated []*ImportJob
	var found *ImportJob
	for h.Len() > 0 {
		job := heap.Pop(h).(*ImportJob)
		if job.Eligible(now) {
			found = job
			break
		}
		gated = append(gated, job)
	}
	for _, job := range gated {
		heap.Push(h, job)
	}
	return found
}

// remove drops job from the heap if present
func (h *pendingHeap) remove(job *ImportJob) {
	if job.heapIndex >= 0 && job.heapIndex < h.Len() && (*h)[job.heapIndex] == job {
		heap.Remove(h, job.heapIndex)
	}
}

// delayed counts jobs still behind their backoff gate
func (h pendingHeap) delayed(now time.Time) int {
	n := 0
	for _, job := range h {
		if !job.Eligible(now) {
			n++
		}
	}
	return n
}
