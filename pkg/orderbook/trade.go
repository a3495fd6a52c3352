package orderbook

import "time"

// Trade is an immutable match between a buy and a sell order. Price is always
// the resting (maker) order's price.
type Trade struct {
	BuyOrderID  uint64
	SellOrderID uint64
	Symbol      string
	Price       float64
	Qty         int64
	Timestamp   time.Time
}
