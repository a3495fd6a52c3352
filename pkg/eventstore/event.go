package eventstore

import (
	"fmt"
	"time"
)

type ExecType string

const (
	ExecTypeNew         ExecType = "NEW"
	ExecTypePartialFill ExecType = "PARTIAL_FILL"
	ExecTypeFill        ExecType = "FILL"
	ExecTypeCanceled    ExecType = "CANCELED"
	ExecTypeRejected    ExecType = "REJECTED"
)

// OrderEvent is one step of an order's life as observed at the gateway. The
// trail is an observability sidecar; matching never reads it back.
type OrderEvent struct {
	EventID     string    `json:"event_id"`
	OrderID     uint64    `json:"order_id"`
	ClOrdID     string    `json:"cl_ord_id"`
	OrigClOrdID string    `json:"orig_cl_ord_id,omitempty"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	ExecType    ExecType  `json:"exec_type"`
	Price       float64   `json:"price"`
	Qty         int64     `json:"qty"`
	LeavesQty   int64     `json:"leaves_qty"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewEventID keys an event by order and step so replays dedupe on insert.
func NewEventID(orderID uint64, execType ExecType, seq int) string {
	return fmt.Sprintf("%d-%s-%d", orderID, execType, seq)
}
