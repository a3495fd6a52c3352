package gateway

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/tag"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/joripage/fix-exchange/pkg/engine"
	"github.com/joripage/fix-exchange/pkg/fix"
	"github.com/joripage/fix-exchange/pkg/orderbook"
)

var timeNow = time.Now

// OnExecutionReport routes an engine report back to the connection that owns
// the order. Wire this into engine.SetExecutionCallback.
func (g *Gateway) OnExecutionReport(r *engine.ExecutionReport) {
	rt, ok := g.lookupRoute(r.OrderID)
	if !ok {
		g.orphaned.Add(1)
		zap.S().Debugw("report for unrouted order dropped", "order_id", r.OrderID)
		return
	}

	g.emitOrderEvent(rt, r)

	terminal := r.Status == orderbook.StatusFilled ||
		r.Status == orderbook.StatusCancelled ||
		r.Status == orderbook.StatusRejected
	if terminal {
		defer g.dropRoute(r.OrderID)
	}

	v, ok := g.conns.Load(rt.connID)
	if !ok {
		g.orphaned.Add(1)
		return
	}
	conn := v.(*connection)

	if err := conn.session.SendApp(g.buildExecutionReport(rt, r)); err != nil {
		g.orphaned.Add(1)
		zap.S().Warnw("execution report not delivered",
			"conn_id", rt.connID, "order_id", r.OrderID, "err", err)
	}
}

func (g *Gateway) buildExecutionReport(rt *route, r *engine.ExecutionReport) *fix.Message {
	execType, ordStatus := statusToFIX(r.Status, r.LastQty > 0)

	msg := fix.NewMessage().
		SetString(tag.MsgType, string(enum.MsgType_EXECUTION_REPORT)).
		SetString(tag.OrderID, strconv.FormatUint(r.OrderID, 10)).
		SetString(tag.ClOrdID, rt.clOrdID).
		SetString(tag.ExecID, newExecID()).
		SetString(tag.ExecTransType, string(enum.ExecTransType_NEW)).
		SetString(tag.ExecType, string(execType)).
		SetString(tag.OrdStatus, string(ordStatus)).
		SetString(tag.Symbol, r.Symbol).
		SetString(tag.Side, string(sideToFIX(r.Side))).
		SetString(tag.OrderQty, strconv.FormatInt(r.OrderQty, 10)).
		SetString(tag.LeavesQty, strconv.FormatInt(r.LeavesQty, 10)).
		SetString(tag.CumQty, strconv.FormatInt(r.CumQty, 10)).
		SetString(tag.AvgPx, formatPrice(r.LastPrice)).
		SetString(tag.TransactTime, fix.FormatUTCTimestamp(r.Timestamp))

	if r.LastQty > 0 {
		msg.SetString(tag.LastShares, strconv.FormatInt(r.LastQty, 10))
		msg.SetString(tag.LastPx, formatPrice(r.LastPrice))
	}
	if r.Reason != "" {
		msg.SetString(tag.Text, r.Reason)
	}
	return msg
}

func statusToFIX(status orderbook.OrderStatus, fill bool) (enum.ExecType, enum.OrdStatus) {
	switch status {
	case orderbook.StatusNew:
		return enum.ExecType_NEW, enum.OrdStatus_NEW
	case orderbook.StatusPartiallyFilled:
		return enum.ExecType_PARTIAL_FILL, enum.OrdStatus_PARTIALLY_FILLED
	case orderbook.StatusFilled:
		return enum.ExecType_FILL, enum.OrdStatus_FILLED
	case orderbook.StatusCancelled:
		return enum.ExecType_CANCELED, enum.OrdStatus_CANCELED
	case orderbook.StatusRejected:
		return enum.ExecType_REJECTED, enum.OrdStatus_REJECTED
	}
	if fill {
		return enum.ExecType_FILL, enum.OrdStatus_FILLED
	}
	return enum.ExecType_NEW, enum.OrdStatus_NEW
}

// formatPrice renders prices as plain decimals: at most 4 fractional digits,
// trailing zeros dropped (50.00 becomes "50"), no exponent.
func formatPrice(p float64) string {
	return decimal.NewFromFloat(p).Round(4).String()
}

func newExecID() string {
	return uuid.NewString()
}
