package orderbook

import "container/heap"

// PriceHeap keeps the set of populated price levels for one side of a book.
// It implements heap.Interface; less decides whether this is a max-heap
// (bids) or a min-heap (asks). The index map deduplicates pushes and backs
// RemovePrice for cancels that drain a level below the top.
type PriceHeap struct {
	prices []float64
	less   func(i, j float64) bool
	index  map[float64]bool
}

func NewPriceHeap(less func(i, j float64) bool) *PriceHeap {
	return &PriceHeap{
		less:  less,
		index: make(map[float64]bool),
	}
}

func (h PriceHeap) Len() int { return len(h.prices) }

func (h PriceHeap) Less(i, j int) bool { return h.less(h.prices[i], h.prices[j]) }

func (h PriceHeap) Swap(i, j int) { h.prices[i], h.prices[j] = h.prices[j], h.prices[i] }

func (h *PriceHeap) Push(x any) {
	price := x.(float64)
	if !h.index[price] {
		h.index[price] = true
		h.prices = append(h.prices, price)
	}
}

func (h *PriceHeap) Pop() any {
	n := len(h.prices)
	price := h.prices[n-1]
	h.prices = h.prices[:n-1]
	delete(h.index, price)
	return price
}

func (h *PriceHeap) Peek() (float64, bool) {
	if len(h.prices) == 0 {
		return 0, false
	}
	return h.prices[0], true
}

// RemovePrice deletes an arbitrary price from the heap.
func (h *PriceHeap) RemovePrice(price float64) {
	if !h.index[price] {
		return
	}
	for i, p := range h.prices {
		if p == price {
			heap.Remove(h, i)
			return
		}
	}
}

// Prices returns a copy of the level prices, in no particular order.
func (h *PriceHeap) Prices() []float64 {
	out := make([]float64, len(h.prices))
	copy(out, h.prices)
	return out
}
