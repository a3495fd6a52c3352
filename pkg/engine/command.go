package engine

import (
	"time"

	"github.com/joripage/fix-exchange/pkg/orderbook"
)

type commandType int

const (
	cmdSubmit commandType = iota
	cmdCancel
	cmdModify
)

// command is one unit of work on the engine task. reply is non-nil only for
// the sync paths; it receives the final report for the subject order.
type command struct {
	typ commandType

	order *orderbook.Order // submit

	orderID  uint64 // cancel / modify
	reason   string
	newPrice float64
	newQty   int64

	enqueuedAt time.Time
	reply      chan *ExecutionReport
}
