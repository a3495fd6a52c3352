package orderbook

import (
	"container/heap"
	"math"
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// bookSide is one side of a book: FIFO queues per price plus a heap over the
// populated prices. Invariant: a price is in the heap iff its queue exists
// and is non-empty once a mutation completes.
type bookSide struct {
	levels map[float64]*deque.Deque[*Order]
	prices *PriceHeap
}

func newBookSide(less func(i, j float64) bool) *bookSide {
	return &bookSide{
		levels: make(map[float64]*deque.Deque[*Order]),
		prices: NewPriceHeap(less),
	}
}

func (s *bookSide) add(order *Order) {
	q := s.levels[order.Price]
	if q == nil {
		q = &deque.Deque[*Order]{}
		s.levels[order.Price] = q
		heap.Push(s.prices, order.Price)
	}
	q.PushBack(order)
}

func (s *bookSide) dropLevel(price float64) {
	delete(s.levels, price)
	s.prices.RemovePrice(price)
}

func (s *bookSide) best() (float64, bool) {
	return s.prices.Peek()
}

func (s *bookSide) qtyAt(price float64) int64 {
	q := s.levels[price]
	if q == nil {
		return 0
	}
	var total int64
	for i := 0; i < q.Len(); i++ {
		total += q.At(i).Remain
	}
	return total
}

// PriceLevel is an aggregate view of one price level.
type PriceLevel struct {
	Price  float64
	Qty    int64
	Orders int
}

// Book holds one symbol's resting liquidity and runs continuous price-time
// priority matching. Mutations are expected to arrive from a single writer
// (the engine task); queries may come from any goroutine and see consistent
// snapshots under the read lock.
type Book struct {
	symbol string

	bids *bookSide
	asks *bookSide

	ordersByID map[uint64]*Order

	mu sync.RWMutex
}

func NewBook(symbol string) *Book {
	return &Book{
		symbol:     symbol,
		bids:       newBookSide(func(i, j float64) bool { return i > j }), // max-heap
		asks:       newBookSide(func(i, j float64) bool { return i < j }), // min-heap
		ordersByID: make(map[uint64]*Order),
	}
}

func (b *Book) Symbol() string { return b.symbol }

// Submit matches the order against the opposite side and rests any residual
// that is allowed to rest. It returns the emitted trades plus a value
// snapshot of each maker touched, in execution order; nothing is called out
// under the lock. The order's status on return is final for market/IOC/FOK
// orders; limit residuals stay active on the book.
func (b *Book) Submit(order *Order) ([]Trade, []Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if order.Symbol != b.symbol {
		order.Status = StatusRejected
		return nil, nil
	}

	if order.Status == "" {
		order.Status = StatusNew
	}
	if order.Remain == 0 {
		order.Remain = order.Qty
	}

	// FOK is decided before any trade is emitted: either the whole quantity
	// is reachable or nothing happens.
	if order.TIF == FOK && b.reachableQty(order) < order.Remain {
		order.Status = StatusRejected
		return nil, nil
	}

	trades, makers := b.match(order)

	if order.Remain > 0 && !order.IsTerminal() {
		switch {
		case order.Type == MARKET:
			// Insufficient liquidity. Market orders never rest.
			order.Status = StatusRejected
		case order.TIF == IOC:
			order.Status = StatusCancelled
		default:
			b.rest(order)
		}
	}

	return trades, makers
}

// match walks the opposite side from the best price, trading at the maker's
// price, FIFO within a level. Market orders use a sentinel limit that exists
// only inside this call.
func (b *Book) match(order *Order) ([]Trade, []Order) {
	var counter *bookSide
	var crosses func(limit, counterPrice float64) bool

	limit := order.Price
	if order.Side == BUY {
		counter = b.asks
		crosses = func(limit, counterPrice float64) bool { return limit >= counterPrice }
		if order.Type == MARKET {
			limit = math.Inf(1)
		}
	} else {
		counter = b.bids
		crosses = func(limit, counterPrice float64) bool { return limit <= counterPrice }
		if order.Type == MARKET {
			limit = math.Inf(-1)
		}
	}

	var trades []Trade
	var makers []Order
	for order.Remain > 0 {
		bestPrice, ok := counter.best()
		if !ok || !crosses(limit, bestPrice) {
			break
		}

		q := counter.levels[bestPrice]
		maker := q.Front()

		matchQty := min(order.Remain, maker.Remain)
		order.fill(matchQty)
		maker.fill(matchQty)

		t := Trade{
			Symbol:    b.symbol,
			Price:     bestPrice,
			Qty:       matchQty,
			Timestamp: time.Now().UTC(),
		}
		if order.Side == BUY {
			t.BuyOrderID, t.SellOrderID = order.ID, maker.ID
		} else {
			t.BuyOrderID, t.SellOrderID = maker.ID, order.ID
		}
		trades = append(trades, t)
		makers = append(makers, *maker)

		if maker.Remain == 0 {
			q.PopFront()
			delete(b.ordersByID, maker.ID)
			if q.Len() == 0 {
				counter.dropLevel(bestPrice)
			}
		}
	}

	return trades, makers
}

// reachableQty computes how much of the order could fill right now without
// mutating anything. Backs the FOK pre-pass.
func (b *Book) reachableQty(order *Order) int64 {
	var counter *bookSide
	var crosses func(counterPrice float64) bool

	if order.Side == BUY {
		counter = b.asks
		limit := order.Price
		if order.Type == MARKET {
			limit = math.Inf(1)
		}
		crosses = func(p float64) bool { return limit >= p }
	} else {
		counter = b.bids
		limit := order.Price
		if order.Type == MARKET {
			limit = math.Inf(-1)
		}
		crosses = func(p float64) bool { return limit <= p }
	}

	var total int64
	for _, price := range counter.prices.Prices() {
		if !crosses(price) {
			continue
		}
		total += counter.qtyAt(price)
		if total >= order.Remain {
			break
		}
	}
	return total
}

func (b *Book) rest(order *Order) {
	side := b.bids
	if order.Side == SELL {
		side = b.asks
	}
	side.add(order)
	b.ordersByID[order.ID] = order
}

// Cancel removes an active resting order and returns its final snapshot.
// ok is false when the order is unknown, already terminal, or not resting
// here.
func (b *Book) Cancel(orderID uint64) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.ordersByID[orderID]
	if !ok || !order.IsActive() {
		return Order{}, false
	}

	side := b.bids
	if order.Side == SELL {
		side = b.asks
	}
	q := side.levels[order.Price]
	if q == nil {
		return Order{}, false
	}
	i := q.Index(func(o *Order) bool { return o.ID == orderID })
	if i < 0 {
		return Order{}, false
	}
	q.Remove(i)
	if q.Len() == 0 {
		side.dropLevel(order.Price)
	}

	order.Status = StatusCancelled
	delete(b.ordersByID, orderID)
	return *order, true
}

// Find returns a value snapshot of a resting order.
func (b *Book) Find(orderID uint64) (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	order, ok := b.ordersByID[orderID]
	if !ok {
		return Order{}, false
	}
	return *order, true
}

func (b *Book) BestBid() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.best()
}

func (b *Book) BestAsk() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.best()
}

func (b *Book) BidQtyAtTop() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	price, ok := b.bids.best()
	if !ok {
		return 0
	}
	return b.bids.qtyAt(price)
}

func (b *Book) AskQtyAtTop() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	price, ok := b.asks.best()
	if !ok {
		return 0
	}
	return b.asks.qtyAt(price)
}

// Depth returns up to n aggregated levels per side, best first.
func (b *Book) Depth(n int) (bids, asks []PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return collectLevels(b.bids, n, func(i, j float64) bool { return i > j }),
		collectLevels(b.asks, n, func(i, j float64) bool { return i < j })
}

// Size is the number of resting orders on both sides.
func (b *Book) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ordersByID)
}

func collectLevels(side *bookSide, n int, better func(i, j float64) bool) []PriceLevel {
	prices := side.prices.Prices()
	// insertion sort; depth requests are small
	for i := 1; i < len(prices); i++ {
		for j := i; j > 0 && better(prices[j], prices[j-1]); j-- {
			prices[j], prices[j-1] = prices[j-1], prices[j]
		}
	}
	if n > 0 && len(prices) > n {
		prices = prices[:n]
	}

	out := make([]PriceLevel, 0, len(prices))
	for _, price := range prices {
		q := side.levels[price]
		out = append(out, PriceLevel{
			Price:  price,
			Qty:    side.qtyAt(price),
			Orders: q.Len(),
		})
	}
	return out
}
