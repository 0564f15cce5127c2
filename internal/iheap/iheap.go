// Package iheap implements an indexed min-heap: a binary heap where every
// element also gets a stable external ID, usable later to cancel or look up
// the element without tracking its current heap position.
//
// Grounded on curl-loader's heap.c: HEAP_PARENT/HEAP_LCHILD indexing,
// filter_up/filter_down sift, and the external-ID table with an
// ids_last/ids_min_free allocation scheme (see NewID below).
package iheap

import (
	"container/heap"

	"fortio.org/curlloader/internal/slab"
)

// Item is anything that can be stored in the heap, ordered by Less.
type Item interface {
	// Less reports whether this item should fire before other.
	Less(other Item) bool
}

// entry pairs a stored item with its externally visible ID.
type entry struct {
	id   int
	item Item
}

// innerHeap implements container/heap.Interface. It never reorders IDs:
// the ID lives with the entry, independent of its slice position.
type innerHeap []*entry

func (h innerHeap) Len() int            { return len(h) }
func (h innerHeap) Less(i, j int) bool  { return h[i].item.Less(h[j].item) }
func (h innerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *innerHeap) Push(x interface{}) { *h = append(*h, x.(*entry)) }
func (h *innerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Heap is an indexed min-heap. The zero value is not usable; use New.
type Heap struct {
	h innerHeap
	// byID maps an external ID to its entry, for O(1) lookup/removal
	// given only the ID (as heap.c's ids[] array does by node index).
	byID map[int]*entry
	// idsLast mirrors heap.c's ids_last: the cursor the forward scan for a
	// free ID starts from when idsMinFree holds no reusable ID.
	idsLast int
	// idsMinFree mirrors heap.c's ids_min_free: the lowest freed ID, tried
	// before the forward scan from idsLast (-1 when there is none).
	idsMinFree int
	// pool hands out *entry from a chunked free list instead of a fresh
	// allocation per Push, mirroring allocator.c's node_prealloc: entries
	// churn constantly (every Push/Pop/Remove) so this is the one site in
	// the heap worth drawing from a slab rather than letting each entry
	// escape to a one-off heap allocation.
	pool *slab.Pool[entry]
}

// New returns an empty indexed heap.
func New() *Heap {
	return &Heap{
		byID:       make(map[int]*entry),
		idsMinFree: -1,
		pool:       slab.NewPool[entry](),
	}
}

// Len returns the number of items currently in the heap.
func (h *Heap) Len() int { return h.h.Len() }

// nextID allocates an external ID not currently in use: try idsMinFree
// first (a slot freed earlier and still unclaimed), then scan forward
// from idsLast.
func (h *Heap) nextID() int {
	if h.idsMinFree >= 0 {
		if _, used := h.byID[h.idsMinFree]; !used {
			id := h.idsMinFree
			h.idsMinFree = -1
			return id
		}
		h.idsMinFree = -1
	}
	for id := h.idsLast; ; id++ {
		if _, used := h.byID[id]; !used {
			h.idsLast = id + 1
			return id
		}
	}
}

// Push inserts item and returns the external ID assigned to it.
// If keepID >= 0, that ID is reused instead of allocating a new one
// (curl-loader's heap_push keep_node_id, used to re-fire a periodic
// timer under its original identity).
func (h *Heap) Push(item Item, keepID int) int {
	id := keepID
	if id < 0 {
		id = h.nextID()
	} else {
		delete(h.byID, id) // in case it was still tracked as free-but-stale
	}
	e := h.pool.Get()
	e.id, e.item = id, item
	h.byID[id] = e
	heap.Push(&h.h, e)
	return id
}

// Peek returns the minimum item without removing it, and false if empty.
func (h *Heap) Peek() (Item, int, bool) {
	if h.h.Len() == 0 {
		return nil, -1, false
	}
	top := h.h[0]
	return top.item, top.id, true
}

// Pop removes and returns the minimum item.
func (h *Heap) Pop() (Item, int, bool) {
	if h.h.Len() == 0 {
		return nil, -1, false
	}
	e := heap.Pop(&h.h).(*entry)
	item, id := e.item, e.id
	h.release(e)
	return item, id, true
}

// Get returns the item currently stored under id, if any.
func (h *Heap) Get(id int) (Item, bool) {
	e, ok := h.byID[id]
	if !ok {
		return nil, false
	}
	return e.item, true
}

// Remove removes the item stored under id, mirroring heap_remove_node:
// find its slice position, swap-with-last, then filter up or down
// depending on how it compares to its new parent. container/heap.Remove
// performs exactly this swap and sift.
func (h *Heap) Remove(id int) (Item, bool) {
	e, ok := h.byID[id]
	if !ok {
		return nil, false
	}
	idx := -1
	for i, v := range h.h {
		if v == e {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false // should not happen if byID is consistent
	}
	heap.Remove(&h.h, idx)
	item := e.item
	h.release(e)
	return item, true
}

// release frees id for reuse, updating idsMinFree the way heap.c tracks
// the lowest freed slot so nextID hands it out again before scanning
// forward, and returns e to the entry pool.
func (h *Heap) release(e *entry) {
	delete(h.byID, e.id)
	if h.idsMinFree < 0 || e.id < h.idsMinFree {
		h.idsMinFree = e.id
	}
	h.pool.Put(e)
}
