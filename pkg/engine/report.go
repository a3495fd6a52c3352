package engine

import (
	"time"

	"github.com/joripage/fix-exchange/pkg/orderbook"
)

// ExecutionReport is the engine's answer to every order event: admission,
// each fill, cancel, and rejection. Reports are value snapshots; they never
// alias live book state.
type ExecutionReport struct {
	OrderID   uint64
	ClientID  string
	Symbol    string
	Side      orderbook.Side
	OrderType orderbook.OrderType
	Price     float64
	OrderQty  int64
	CumQty    int64
	LeavesQty int64
	Status    orderbook.OrderStatus

	// set on fills only
	LastPrice float64
	LastQty   int64

	// set on rejections, and on cancels to carry the cancel reason
	Reason string

	Timestamp time.Time
}

func reportFor(o orderbook.Order) *ExecutionReport {
	return &ExecutionReport{
		OrderID:   o.ID,
		ClientID:  o.ClientID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		OrderType: o.Type,
		Price:     o.Price,
		OrderQty:  o.Qty,
		CumQty:    o.FilledQty(),
		LeavesQty: o.Remain,
		Status:    o.Status,
		Timestamp: time.Now().UTC(),
	}
}

func fillReportFor(o orderbook.Order, t orderbook.Trade) *ExecutionReport {
	r := reportFor(o)
	r.LastPrice = t.Price
	r.LastQty = t.Qty
	return r
}

func rejectReportFor(o orderbook.Order, reason string) *ExecutionReport {
	r := reportFor(o)
	r.Status = orderbook.StatusRejected
	r.Reason = reason
	return r
}

// MarketDataSnapshot is a top-of-book view published after each mutation when
// market data callbacks are enabled.
type MarketDataSnapshot struct {
	Symbol       string
	BidPrice     float64
	BidQty       int64
	AskPrice     float64
	AskQty       int64
	LastTradePx  float64
	LastTradeQty int64
	Timestamp    time.Time
}
