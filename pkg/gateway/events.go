package gateway

import (
	"github.com/joripage/fix-exchange/pkg/engine"
	"github.com/joripage/fix-exchange/pkg/eventstore"
	"github.com/joripage/fix-exchange/pkg/orderbook"
)

// OrderEventSink receives the order-event trail. Satisfied by every
// eventstore.EventStore.
type OrderEventSink interface {
	AddEvent(ev *eventstore.OrderEvent)
	TrackClOrdChain(orderID uint64, clOrdID, origClOrdID string)
}

func (g *Gateway) trackClOrdChain(orderID uint64, clOrdID, origClOrdID string) {
	if g.eventSink != nil {
		g.eventSink.TrackClOrdChain(orderID, clOrdID, origClOrdID)
	}
}

func (g *Gateway) emitOrderEvent(rt *route, r *engine.ExecutionReport) {
	if g.eventSink == nil {
		return
	}

	var execType eventstore.ExecType
	switch r.Status {
	case orderbook.StatusNew:
		execType = eventstore.ExecTypeNew
	case orderbook.StatusPartiallyFilled:
		execType = eventstore.ExecTypePartialFill
	case orderbook.StatusFilled:
		execType = eventstore.ExecTypeFill
	case orderbook.StatusCancelled:
		execType = eventstore.ExecTypeCanceled
	case orderbook.StatusRejected:
		execType = eventstore.ExecTypeRejected
	default:
		return
	}

	g.routesMu.Lock()
	rt.eventSeq++
	seq := rt.eventSeq
	g.routesMu.Unlock()

	price := r.Price
	qty := r.OrderQty
	if r.LastQty > 0 {
		price = r.LastPrice
		qty = r.LastQty
	}

	g.eventSink.AddEvent(&eventstore.OrderEvent{
		EventID:   eventstore.NewEventID(r.OrderID, execType, seq),
		OrderID:   r.OrderID,
		ClOrdID:   rt.clOrdID,
		Symbol:    r.Symbol,
		Side:      rt.side,
		ExecType:  execType,
		Price:     price,
		Qty:       qty,
		LeavesQty: r.LeavesQty,
		Reason:    r.Reason,
		Timestamp: r.Timestamp,
	})
}
