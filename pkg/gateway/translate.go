package gateway

import (
	"fmt"
	"strconv"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/tag"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/joripage/fix-exchange/pkg/fix"
	"github.com/joripage/fix-exchange/pkg/orderbook"
)

func (g *Gateway) handleAppMessage(conn *connection, msg *fix.Message) {
	switch msg.MsgType() {
	case string(enum.MsgType_ORDER_SINGLE):
		g.handleNewOrderSingle(conn, msg)
	case string(enum.MsgType_ORDER_CANCEL_REQUEST):
		g.handleOrderCancelRequest(conn, msg)
	case string(enum.MsgType_ORDER_CANCEL_REPLACE_REQUEST):
		g.handleOrderCancelReplaceRequest(conn, msg)
	default:
		conn.session.Reject(msg, "unsupported message type "+msg.MsgType())
	}
}

// handleNewOrderSingle translates 35=D into an engine order. The engine id is
// assigned here so the routing entry exists before the first report fires.
func (g *Gateway) handleNewOrderSingle(conn *connection, msg *fix.Message) {
	clOrdID, ok := msg.GetString(tag.ClOrdID)
	if !ok || clOrdID == "" {
		g.appReject(conn, msg, "missing ClOrdID")
		return
	}
	symbol, ok := msg.GetString(tag.Symbol)
	if !ok || symbol == "" {
		g.appReject(conn, msg, "missing Symbol")
		return
	}

	side, err := parseSide(msg)
	if err != nil {
		g.appReject(conn, msg, err.Error())
		return
	}
	qty, err := parseQty(msg)
	if err != nil {
		g.appReject(conn, msg, err.Error())
		return
	}
	ordType, err := parseOrdType(msg)
	if err != nil {
		g.appReject(conn, msg, err.Error())
		return
	}
	tif, err := parseTimeInForce(msg)
	if err != nil {
		g.appReject(conn, msg, err.Error())
		return
	}

	var price float64
	switch ordType {
	case orderbook.LIMIT:
		price, err = parsePrice(msg)
		if err != nil {
			g.appReject(conn, msg, err.Error())
			return
		}
	case orderbook.MARKET:
		if msg.Has(tag.Price) {
			g.appReject(conn, msg, "market order must not carry a price")
			return
		}
	}

	order := &orderbook.Order{
		ID:       g.engine.NextOrderID(),
		ClientID: conn.session.PeerCompID(),
		Symbol:   symbol,
		Side:     side,
		Type:     ordType,
		Price:    price,
		Qty:      qty,
		Remain:   qty,
		TIF:      tif,
		Status:   orderbook.StatusNew,
	}

	g.trackRoute(order.ID, &route{
		connID:  conn.id,
		clOrdID: clOrdID,
		symbol:  symbol,
		side:    string(sideToFIX(side)),
		qty:     qty,
	})
	g.trackClOrdChain(order.ID, clOrdID, "")

	if err := g.engine.SubmitOrder(order); err != nil {
		g.dropRoute(order.ID)
		g.appReject(conn, msg, "engine unavailable: "+err.Error())
	}
}

// handleOrderCancelRequest resolves (connection, OrigClOrdID) back to the
// engine order id. A miss is an application reject, not a session error.
func (g *Gateway) handleOrderCancelRequest(conn *connection, msg *fix.Message) {
	origClOrdID, ok := msg.GetString(tag.OrigClOrdID)
	if !ok || origClOrdID == "" {
		g.appReject(conn, msg, "missing OrigClOrdID")
		return
	}
	clOrdID, ok := msg.GetString(tag.ClOrdID)
	if !ok || clOrdID == "" {
		g.appReject(conn, msg, "missing ClOrdID")
		return
	}

	orderID, ok := g.resolveClOrdID(conn.id, origClOrdID)
	if !ok {
		g.appReject(conn, msg, "unknown order "+origClOrdID)
		return
	}

	// The cancel's own ClOrdID becomes the order's current one; reports for
	// the cancelled order reference it.
	g.routesMu.Lock()
	if r, exists := g.routes[orderID]; exists {
		delete(g.reverse, clOrdKey{r.connID, r.clOrdID})
		r.clOrdID = clOrdID
		g.reverse[clOrdKey{r.connID, clOrdID}] = orderID
	}
	g.routesMu.Unlock()
	g.trackClOrdChain(orderID, clOrdID, origClOrdID)

	if err := g.engine.CancelOrder(orderID, "client cancel"); err != nil {
		g.appReject(conn, msg, "engine unavailable: "+err.Error())
	}
}

// handleOrderCancelReplaceRequest maps 35=G onto the engine's cancel-then-new
// modify. The order keeps its id and loses time priority.
func (g *Gateway) handleOrderCancelReplaceRequest(conn *connection, msg *fix.Message) {
	origClOrdID, ok := msg.GetString(tag.OrigClOrdID)
	if !ok || origClOrdID == "" {
		g.appReject(conn, msg, "missing OrigClOrdID")
		return
	}
	clOrdID, ok := msg.GetString(tag.ClOrdID)
	if !ok || clOrdID == "" {
		g.appReject(conn, msg, "missing ClOrdID")
		return
	}
	qty, err := parseQty(msg)
	if err != nil {
		g.appReject(conn, msg, err.Error())
		return
	}
	price, err := parsePrice(msg)
	if err != nil {
		g.appReject(conn, msg, err.Error())
		return
	}

	orderID, ok := g.resolveClOrdID(conn.id, origClOrdID)
	if !ok {
		g.appReject(conn, msg, "unknown order "+origClOrdID)
		return
	}

	g.routesMu.Lock()
	if r, exists := g.routes[orderID]; exists {
		delete(g.reverse, clOrdKey{r.connID, r.clOrdID})
		r.clOrdID = clOrdID
		r.qty = qty
		g.reverse[clOrdKey{r.connID, clOrdID}] = orderID
	}
	g.routesMu.Unlock()
	g.trackClOrdChain(orderID, clOrdID, origClOrdID)

	if err := g.engine.ModifyOrder(orderID, price, qty); err != nil {
		g.appReject(conn, msg, "engine unavailable: "+err.Error())
	}
}

// appReject answers a flawed application message with an ExecutionReport in
// Rejected status, echoing whatever identifying fields the message carried.
func (g *Gateway) appReject(conn *connection, msg *fix.Message, reason string) {
	reply := fix.NewMessage().
		SetString(tag.MsgType, string(enum.MsgType_EXECUTION_REPORT)).
		SetString(tag.OrderID, "NONE").
		SetString(tag.ExecID, newExecID()).
		SetString(tag.ExecTransType, string(enum.ExecTransType_NEW)).
		SetString(tag.ExecType, string(enum.ExecType_REJECTED)).
		SetString(tag.OrdStatus, string(enum.OrdStatus_REJECTED)).
		SetString(tag.LeavesQty, "0").
		SetString(tag.CumQty, "0").
		SetString(tag.AvgPx, "0").
		SetString(tag.Text, reason).
		SetString(tag.TransactTime, fix.FormatUTCTimestamp(timeNow()))
	copyIfPresent(msg, reply, tag.ClOrdID)
	copyIfPresent(msg, reply, tag.Symbol)
	copyIfPresent(msg, reply, tag.Side)
	copyIfPresent(msg, reply, tag.OrderQty)

	if err := conn.session.SendApp(reply); err != nil {
		zap.S().Warnw("application reject not delivered", "conn_id", conn.id, "err", err)
	}
}

func copyIfPresent(from, to *fix.Message, t fix.Tag) {
	if v, ok := from.Get(t); ok {
		to.Set(t, v)
	}
}

func parseSide(msg *fix.Message) (orderbook.Side, error) {
	v, ok := msg.GetString(tag.Side)
	if !ok {
		return "", fmt.Errorf("missing Side")
	}
	switch enum.Side(v) {
	case enum.Side_BUY:
		return orderbook.BUY, nil
	case enum.Side_SELL:
		return orderbook.SELL, nil
	}
	return "", fmt.Errorf("bad Side %q", v)
}

func parseOrdType(msg *fix.Message) (orderbook.OrderType, error) {
	v, ok := msg.GetString(tag.OrdType)
	if !ok {
		return "", fmt.Errorf("missing OrdType")
	}
	switch enum.OrdType(v) {
	case enum.OrdType_MARKET:
		return orderbook.MARKET, nil
	case enum.OrdType_LIMIT:
		return orderbook.LIMIT, nil
	case "3", "4": // stop / stop limit
		return "", fmt.Errorf("order type %q not supported", v)
	}
	return "", fmt.Errorf("bad OrdType %q", v)
}

func parseTimeInForce(msg *fix.Message) (orderbook.TimeInForce, error) {
	v, ok := msg.GetString(tag.TimeInForce)
	if !ok {
		return orderbook.DAY, nil
	}
	switch enum.TimeInForce(v) {
	case enum.TimeInForce_DAY:
		return orderbook.DAY, nil
	case enum.TimeInForce_GOOD_TILL_CANCEL:
		return orderbook.GTC, nil
	case enum.TimeInForce_IMMEDIATE_OR_CANCEL:
		return orderbook.IOC, nil
	case enum.TimeInForce_FILL_OR_KILL:
		return orderbook.FOK, nil
	}
	return "", fmt.Errorf("bad TimeInForce %q", v)
}

func parseQty(msg *fix.Message) (int64, error) {
	v, ok := msg.GetString(tag.OrderQty)
	if !ok {
		return 0, fmt.Errorf("missing OrderQty")
	}
	qty, err := strconv.ParseInt(v, 10, 64)
	if err != nil || qty <= 0 {
		return 0, fmt.Errorf("bad OrderQty %q", v)
	}
	return qty, nil
}

// parsePrice accepts decimal strings with at most 4 fractional digits.
func parsePrice(msg *fix.Message) (float64, error) {
	v, ok := msg.GetString(tag.Price)
	if !ok {
		return 0, fmt.Errorf("missing Price")
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, fmt.Errorf("bad Price %q", v)
	}
	if d.Exponent() < -4 {
		return 0, fmt.Errorf("price %s has more than 4 decimal places", v)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("price %s must be positive", v)
	}
	return d.InexactFloat64(), nil
}

func sideToFIX(s orderbook.Side) enum.Side {
	if s == orderbook.SELL {
		return enum.Side_SELL
	}
	return enum.Side_BUY
}
