package repo

import (
	"time"

	"github.com/joripage/fix-exchange/pkg/eventstore"
)

// OrderRecord is the orders table: one row per engine order, updated in place
// as events land.
type OrderRecord struct {
	OrderID   uint64    `gorm:"column:order_id;primaryKey"`
	ClOrdID   string    `gorm:"column:cl_ord_id"`
	Symbol    string    `gorm:"column:symbol"`
	Side      string    `gorm:"column:side"`
	Price     float64   `gorm:"column:price"`
	Qty       int64     `gorm:"column:qty"`
	LeavesQty int64     `gorm:"column:leaves_qty"`
	Status    string    `gorm:"column:status"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (OrderRecord) TableName() string { return "orders" }

// OrderEventRecord is the order_events table: the append-only trail.
type OrderEventRecord struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	OrderID     uint64    `gorm:"column:order_id"`
	ClOrdID     string    `gorm:"column:cl_ord_id"`
	OrigClOrdID string    `gorm:"column:orig_cl_ord_id"`
	Symbol      string    `gorm:"column:symbol"`
	Side        string    `gorm:"column:side"`
	ExecType    string    `gorm:"column:exec_type"`
	Price       float64   `gorm:"column:price"`
	Qty         int64     `gorm:"column:qty"`
	LeavesQty   int64     `gorm:"column:leaves_qty"`
	Reason      string    `gorm:"column:reason"`
	Timestamp   time.Time `gorm:"column:ts"`
}

func (OrderEventRecord) TableName() string { return "order_events" }

func OrderEventRecordFrom(ev *eventstore.OrderEvent) *OrderEventRecord {
	return &OrderEventRecord{
		EventID:     ev.EventID,
		OrderID:     ev.OrderID,
		ClOrdID:     ev.ClOrdID,
		OrigClOrdID: ev.OrigClOrdID,
		Symbol:      ev.Symbol,
		Side:        ev.Side,
		ExecType:    string(ev.ExecType),
		Price:       ev.Price,
		Qty:         ev.Qty,
		LeavesQty:   ev.LeavesQty,
		Reason:      ev.Reason,
		Timestamp:   ev.Timestamp,
	}
}

// OrderRecordFrom derives the current order row from an event.
func OrderRecordFrom(ev *eventstore.OrderEvent) *OrderRecord {
	status := map[eventstore.ExecType]string{
		eventstore.ExecTypeNew:         "NEW",
		eventstore.ExecTypePartialFill: "PARTIALLY_FILLED",
		eventstore.ExecTypeFill:        "FILLED",
		eventstore.ExecTypeCanceled:    "CANCELLED",
		eventstore.ExecTypeRejected:    "REJECTED",
	}[ev.ExecType]

	return &OrderRecord{
		OrderID:   ev.OrderID,
		ClOrdID:   ev.ClOrdID,
		Symbol:    ev.Symbol,
		Side:      ev.Side,
		Price:     ev.Price,
		Qty:       ev.Qty,
		LeavesQty: ev.LeavesQty,
		Status:    status,
		UpdatedAt: ev.Timestamp,
	}
}
