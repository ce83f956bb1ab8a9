package hal

import (
	"sync"

	"github.com/ardnew/softsd/pkg"
)

// Heap is an Allocator that tracks live card records. A limit caps the
// number of records that may be live at once, modelling a constrained
// heap.
type Heap struct {
	limit int
	live  map[*Card]struct{}
	mutex sync.Mutex
}

// NewHeap creates a heap. A limit of zero or less means unlimited.
func NewHeap(limit int) *Heap {
	return &Heap{
		limit: limit,
		live:  make(map[*Card]struct{}),
	}
}

// Alloc returns a zeroed record, or nil if the limit is reached.
func (h *Heap) Alloc() *Card {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.limit > 0 && len(h.live) >= h.limit {
		pkg.LogDebug(pkg.ComponentHAL, "heap exhausted",
			"limit", h.limit,
			"size", CardSize)
		return nil
	}
	card := new(Card)
	h.live[card] = struct{}{}
	return card
}

// Free releases a record. Freeing nil is a no-op; freeing a record the
// heap does not own is logged and ignored.
func (h *Heap) Free(card *Card) {
	if card == nil {
		return
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.live[card]; !ok {
		pkg.LogWarn(pkg.ComponentHAL, "free of unowned card record")
		return
	}
	delete(h.live, card)
}

// InUse returns the number of live records.
func (h *Heap) InUse() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.live)
}

// BytesInUse returns the memory held by live records.
func (h *Heap) BytesInUse() int {
	return h.InUse() * CardSize
}

// SetLimit changes the live-record limit. Records already live are kept.
func (h *Heap) SetLimit(limit int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.limit = limit
}
