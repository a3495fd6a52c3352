package orderbook

import (
	"testing"
)

var nextAdmission int64

func newOrder(id uint64, side Side, typ OrderType, price float64, qty int64) *Order {
	nextAdmission++
	return &Order{
		ID:         id,
		ClientID:   "client-1",
		Symbol:     "AAPL",
		Side:       side,
		Type:       typ,
		Price:      price,
		Qty:        qty,
		Remain:     qty,
		TIF:        DAY,
		Status:     StatusNew,
		AdmittedAt: nextAdmission,
	}
}

func TestSimpleCross(t *testing.T) {
	b := NewBook("AAPL")

	sell := newOrder(1, SELL, LIMIT, 100.00, 10)
	if trades, _ := b.Submit(sell); len(trades) != 0 {
		t.Fatalf("expected no trades resting the sell, got %d", len(trades))
	}

	buy := newOrder(2, BUY, LIMIT, 100.00, 8)
	trades, _ := b.Submit(buy)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	tr := trades[0]
	if tr.BuyOrderID != 2 || tr.SellOrderID != 1 || tr.Price != 100.00 || tr.Qty != 8 {
		t.Errorf("unexpected trade %+v", tr)
	}
	if buy.Status != StatusFilled {
		t.Errorf("buy status = %s, want FILLED", buy.Status)
	}
	if sell.Status != StatusPartiallyFilled || sell.Remain != 2 {
		t.Errorf("sell status=%s remain=%d, want PARTIALLY_FILLED remain=2", sell.Status, sell.Remain)
	}

	if ask, ok := b.BestAsk(); !ok || ask != 100.00 {
		t.Errorf("best ask = %v %v, want 100.00", ask, ok)
	}
	if qty := b.AskQtyAtTop(); qty != 2 {
		t.Errorf("ask qty at top = %d, want 2", qty)
	}
	if _, ok := b.BestBid(); ok {
		t.Errorf("expected empty bid side")
	}
}

func TestNoCrossOnPrice(t *testing.T) {
	b := NewBook("AAPL")
	b.Submit(newOrder(1, SELL, LIMIT, 100.00, 10))
	buy := newOrder(2, BUY, LIMIT, 98.00, 10)
	if trades, _ := b.Submit(buy); len(trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(trades))
	}
	if buy.Status != StatusNew {
		t.Errorf("buy should rest as NEW, got %s", buy.Status)
	}
	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	if !(bid < ask) {
		t.Errorf("book crossed at rest: bid=%v ask=%v", bid, ask)
	}
}

func TestMarketWalksBook(t *testing.T) {
	b := NewBook("AAPL")
	b.Submit(newOrder(1, SELL, LIMIT, 100.00, 5))
	b.Submit(newOrder(2, SELL, LIMIT, 101.00, 10))

	buy := newOrder(3, BUY, MARKET, 0, 12)
	trades, _ := b.Submit(buy)
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].Price != 100.00 || trades[0].Qty != 5 || trades[0].SellOrderID != 1 {
		t.Errorf("trade 0 = %+v", trades[0])
	}
	if trades[1].Price != 101.00 || trades[1].Qty != 7 || trades[1].SellOrderID != 2 {
		t.Errorf("trade 1 = %+v", trades[1])
	}
	if buy.Status != StatusFilled {
		t.Errorf("buy status = %s", buy.Status)
	}
	if order, ok := b.Find(2); !ok || order.Remain != 3 || order.Status != StatusPartiallyFilled {
		t.Errorf("order 2 = %+v ok=%v", order, ok)
	}
}

func TestMarketInsufficientLiquidity(t *testing.T) {
	b := NewBook("AAPL")
	b.Submit(newOrder(1, SELL, LIMIT, 100.00, 5))

	buy := newOrder(2, BUY, MARKET, 0, 20)
	trades, _ := b.Submit(buy)
	if len(trades) != 1 || trades[0].Qty != 5 || trades[0].Price != 100.00 {
		t.Fatalf("trades = %+v", trades)
	}
	if buy.Status != StatusRejected || buy.Remain != 15 {
		t.Errorf("buy status=%s remain=%d, want REJECTED remain=15", buy.Status, buy.Remain)
	}
	if _, ok := b.Find(2); ok {
		t.Errorf("market order must not rest")
	}
	if _, ok := b.BestBid(); ok {
		t.Errorf("market order leaked into the bid side")
	}
}

func TestMarketAgainstEmptyBook(t *testing.T) {
	b := NewBook("AAPL")
	buy := newOrder(1, BUY, MARKET, 0, 10)
	if trades, _ := b.Submit(buy); len(trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(trades))
	}
	if buy.Status != StatusRejected {
		t.Errorf("status = %s, want REJECTED", buy.Status)
	}
}

func TestFIFOWithinLevel(t *testing.T) {
	b := NewBook("AAPL")
	b.Submit(newOrder(1, SELL, LIMIT, 100, 5))
	b.Submit(newOrder(2, SELL, LIMIT, 100, 5))

	buy := newOrder(3, BUY, LIMIT, 100, 7)
	trades, _ := b.Submit(buy)
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].SellOrderID != 1 || trades[0].Qty != 5 {
		t.Errorf("trade 0 = %+v, want maker 1 qty 5", trades[0])
	}
	if trades[1].SellOrderID != 2 || trades[1].Qty != 2 {
		t.Errorf("trade 1 = %+v, want maker 2 qty 2", trades[1])
	}
	if buy.Status != StatusFilled {
		t.Errorf("buy status = %s", buy.Status)
	}
	if order, _ := b.Find(2); order.Remain != 3 {
		t.Errorf("order 2 remain = %d, want 3", order.Remain)
	}
	if _, ok := b.Find(1); ok {
		t.Errorf("order 1 should be gone from the book")
	}
}

func TestLimitDepletesWholeSide(t *testing.T) {
	b := NewBook("AAPL")
	b.Submit(newOrder(1, SELL, LIMIT, 100, 5))
	b.Submit(newOrder(2, SELL, LIMIT, 101, 5))
	b.Submit(newOrder(3, SELL, LIMIT, 102, 5))

	buy := newOrder(4, BUY, LIMIT, 102, 20)
	trades, _ := b.Submit(buy)
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(trades))
	}
	for i, wantPrice := range []float64{100, 101, 102} {
		if trades[i].Price != wantPrice {
			t.Errorf("trade %d price = %v, want %v", i, trades[i].Price, wantPrice)
		}
	}
	if _, ok := b.BestAsk(); ok {
		t.Errorf("ask side should be empty")
	}
	if buy.Remain != 5 || buy.Status != StatusPartiallyFilled {
		t.Errorf("buy remain=%d status=%s", buy.Remain, buy.Status)
	}
	if bid, ok := b.BestBid(); !ok || bid != 102 {
		t.Errorf("residual should rest at 102, got %v %v", bid, ok)
	}
}

func TestIOCCancelsResidual(t *testing.T) {
	b := NewBook("AAPL")
	b.Submit(newOrder(1, SELL, LIMIT, 100, 5))

	buy := newOrder(2, BUY, LIMIT, 100, 10)
	buy.TIF = IOC
	trades, _ := b.Submit(buy)
	if len(trades) != 1 || trades[0].Qty != 5 {
		t.Fatalf("trades = %+v", trades)
	}
	if buy.Status != StatusCancelled || buy.Remain != 5 {
		t.Errorf("buy status=%s remain=%d, want CANCELLED remain=5", buy.Status, buy.Remain)
	}
	if _, ok := b.Find(2); ok {
		t.Errorf("IOC residual must not rest")
	}
}

func TestFOKRejectsWithoutTrading(t *testing.T) {
	b := NewBook("AAPL")
	sell := newOrder(1, SELL, LIMIT, 100, 5)
	b.Submit(sell)

	buy := newOrder(2, BUY, LIMIT, 100, 10)
	buy.TIF = FOK
	trades, _ := b.Submit(buy)
	if len(trades) != 0 {
		t.Fatalf("FOK must not trade partially, got %d trades", len(trades))
	}
	if buy.Status != StatusRejected || buy.Remain != 10 {
		t.Errorf("buy status=%s remain=%d", buy.Status, buy.Remain)
	}
	if sell.Remain != 5 || sell.Status != StatusNew {
		t.Errorf("maker touched by rejected FOK: %+v", sell)
	}
}

func TestFOKFillsWhenReachable(t *testing.T) {
	b := NewBook("AAPL")
	b.Submit(newOrder(1, SELL, LIMIT, 100, 5))
	b.Submit(newOrder(2, SELL, LIMIT, 101, 5))

	buy := newOrder(3, BUY, LIMIT, 101, 10)
	buy.TIF = FOK
	trades, _ := b.Submit(buy)
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if buy.Status != StatusFilled {
		t.Errorf("buy status = %s", buy.Status)
	}
}

func TestCancel(t *testing.T) {
	b := NewBook("AAPL")
	order := newOrder(1, BUY, LIMIT, 100, 10)
	b.Submit(order)

	if _, ok := b.Cancel(1); !ok {
		t.Fatalf("expected cancel success")
	}
	if order.Status != StatusCancelled {
		t.Errorf("status = %s", order.Status)
	}
	if _, ok := b.Find(1); ok {
		t.Errorf("cancelled order still resting")
	}
	if _, ok := b.BestBid(); ok {
		t.Errorf("empty level left behind after cancel")
	}
	if _, ok := b.Cancel(1); ok {
		t.Errorf("second cancel should report not found")
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	b := NewBook("AAPL")
	if _, ok := b.Cancel(42); ok {
		t.Fatalf("cancel of unknown order must return false")
	}
}

func TestCancelKeepsLevelWithRemainingOrders(t *testing.T) {
	b := NewBook("AAPL")
	b.Submit(newOrder(1, BUY, LIMIT, 100, 10))
	b.Submit(newOrder(2, BUY, LIMIT, 100, 7))

	if _, ok := b.Cancel(1); !ok {
		t.Fatalf("cancel failed")
	}
	if qty := b.BidQtyAtTop(); qty != 7 {
		t.Errorf("bid qty at top = %d, want 7", qty)
	}

	// FIFO continues with the survivor
	trades, _ := b.Submit(newOrder(3, SELL, LIMIT, 100, 7))
	if len(trades) != 1 || trades[0].BuyOrderID != 2 {
		t.Errorf("trades = %+v", trades)
	}
}

func TestSubmitThenCancelLeavesBookUnchanged(t *testing.T) {
	b := NewBook("AAPL")
	b.Submit(newOrder(1, SELL, LIMIT, 105, 3))

	order := newOrder(2, BUY, LIMIT, 100, 10)
	b.Submit(order)
	if _, ok := b.Cancel(2); !ok {
		t.Fatalf("cancel failed")
	}

	if _, ok := b.BestBid(); ok {
		t.Errorf("bid side should be empty again")
	}
	if ask, ok := b.BestAsk(); !ok || ask != 105 {
		t.Errorf("ask side disturbed: %v %v", ask, ok)
	}
	if b.Size() != 1 {
		t.Errorf("size = %d, want 1", b.Size())
	}
}

func TestWrongSymbolRejected(t *testing.T) {
	b := NewBook("AAPL")
	order := newOrder(1, BUY, LIMIT, 100, 10)
	order.Symbol = "MSFT"
	if trades, _ := b.Submit(order); len(trades) != 0 {
		t.Fatalf("expected no trades")
	}
	if order.Status != StatusRejected {
		t.Errorf("status = %s, want REJECTED", order.Status)
	}
	if b.Size() != 0 {
		t.Errorf("book mutated by rejected order")
	}
}

func TestDepth(t *testing.T) {
	b := NewBook("AAPL")
	b.Submit(newOrder(1, BUY, LIMIT, 99, 10))
	b.Submit(newOrder(2, BUY, LIMIT, 100, 5))
	b.Submit(newOrder(3, BUY, LIMIT, 100, 5))
	b.Submit(newOrder(4, SELL, LIMIT, 101, 7))
	b.Submit(newOrder(5, SELL, LIMIT, 103, 2))

	bids, asks := b.Depth(2)
	if len(bids) != 2 || len(asks) != 2 {
		t.Fatalf("depth sizes = %d/%d", len(bids), len(asks))
	}
	if bids[0].Price != 100 || bids[0].Qty != 10 || bids[0].Orders != 2 {
		t.Errorf("top bid level = %+v", bids[0])
	}
	if bids[1].Price != 99 {
		t.Errorf("second bid level = %+v", bids[1])
	}
	if asks[0].Price != 101 || asks[0].Qty != 7 {
		t.Errorf("top ask level = %+v", asks[0])
	}
}

func TestTradeConservation(t *testing.T) {
	b := NewBook("AAPL")
	b.Submit(newOrder(1, SELL, LIMIT, 100, 4))
	b.Submit(newOrder(2, SELL, LIMIT, 100, 4))
	b.Submit(newOrder(3, SELL, LIMIT, 101, 4))

	buy := newOrder(4, BUY, LIMIT, 101, 10)
	trades, _ := b.Submit(buy)

	var sum int64
	for _, tr := range trades {
		sum += tr.Qty
	}
	if sum != buy.FilledQty() {
		t.Errorf("trade qty sum %d != filled %d", sum, buy.FilledQty())
	}
	if sum > buy.Qty {
		t.Errorf("filled more than original quantity")
	}
}
