// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evloop

import "container/heap"

// timerHeap is a container/heap.Interface over timers, ordered by
// nextFireUsec. Grounded on socket515-gaio/watcher.go's timedHeap, which
// uses the same stdlib heap for per-fd deadlines.
type timerHeap []*TimerHandle

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	return h[i].nextFireUsec < h[j].nextFireUsec
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*TimerHandle)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

func (h *timerHeap) insert(t *TimerHandle) {
	heap.Push(h, t)
}

// removeArbitrary deletes t from the heap regardless of position, used by
// ResetTimer (spec.md §4.2).
func (h *timerHeap) removeArbitrary(t *TimerHandle) {
	if t.heapIndex < 0 || t.heapIndex >= len(*h) {
		return
	}
	heap.Remove(h, t.heapIndex)
}

// fix restores heap order after a timer's key changes in place (e.g.
// DelTimer forcing nextFireUsec to "now").
func (h *timerHeap) fix(t *TimerHandle) {
	if t.heapIndex < 0 || t.heapIndex >= len(*h) {
		return
	}
	heap.Fix(h, t.heapIndex)
}

func (h timerHeap) peek() *TimerHandle {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

func (h *timerHeap) dequeue() *TimerHandle {
	if len(*h) == 0 {
		return nil
	}
	return heap.Pop(h).(*TimerHandle)
}
