// fixclient is an interop and load client: it drives the venue over real
// FIX 4.2 using the quickfixgo initiator, so the hand-built acceptor side is
// exercised against an independent implementation.
package main

import (
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	fix42er "github.com/quickfixgo/fix42/executionreport"
	fix42nos "github.com/quickfixgo/fix42/newordersingle"
	fix42ocr "github.com/quickfixgo/fix42/ordercancelrequest"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/quickfix/log/file"
	"github.com/shopspring/decimal"
)

type InitiatorApp struct {
	*quickfix.MessageRouter
	sessionID *quickfix.SessionID
}

func newInitiatorApp() *InitiatorApp {
	app := &InitiatorApp{MessageRouter: quickfix.NewMessageRouter()}
	app.AddRoute(fix42er.Route(app.onExecutionReport))
	return app
}

func (a *InitiatorApp) OnCreate(sessionID quickfix.SessionID) {
	a.sessionID = &sessionID
}

func (a *InitiatorApp) OnLogon(sessionID quickfix.SessionID) {
	log.Println("Logon success", sessionID)
	sendMessageMatchLimit(sessionID)
	sendMessageMatchMarket(sessionID)
	sendMessageCancelOrder(sessionID)
}

func (a *InitiatorApp) OnLogout(sessionID quickfix.SessionID)                       {}
func (a *InitiatorApp) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {}
func (a *InitiatorApp) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return nil
}
func (a *InitiatorApp) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}
func (a *InitiatorApp) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return a.Route(msg, sessionID)
}

func (a *InitiatorApp) onExecutionReport(msg fix42er.ExecutionReport, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	clOrdID, _ := msg.GetClOrdID()
	ordStatus, _ := msg.GetOrdStatus()
	leavesQty, _ := msg.GetLeavesQty()
	cumQty, _ := msg.GetCumQty()
	text, _ := msg.GetText()
	log.Printf("execution report: clordid=%s status=%s leaves=%s cum=%s text=%q",
		clOrdID, ordStatus, leavesQty, cumQty, text)
	return nil
}

// === Message senders ===

func sendMessageMatchLimit(sessionID quickfix.SessionID) {
	orderSell := newLimitOrder(sessionID, enum.Side_SELL, "AAPL", 100_00, 10)
	if err := quickfix.Send(orderSell); err != nil {
		log.Println(err)
	}

	orderBuy := newLimitOrder(sessionID, enum.Side_BUY, "AAPL", 100_00, 8)
	if err := quickfix.Send(orderBuy); err != nil {
		log.Println(err)
	}
}

func sendMessageMatchMarket(sessionID quickfix.SessionID) {
	orderSell := newLimitOrder(sessionID, enum.Side_SELL, "MSFT", 101_00, 10)
	if err := quickfix.Send(orderSell); err != nil {
		log.Println(err)
	}

	orderBuy := fix42nos.New(
		field.NewClOrdID(randSeq(17)),
		field.NewHandlInst(enum.HandlInst_AUTOMATED_EXECUTION_ORDER_PRIVATE_NO_BROKER_INTERVENTION),
		field.NewSymbol("MSFT"),
		field.NewSide(enum.Side_BUY),
		field.NewTransactTime(time.Now()),
		field.NewOrdType(enum.OrdType_MARKET))
	orderBuy.SetOrderQty(decimal.NewFromInt(5), 0)
	orderBuy.SetSenderCompID(sessionID.SenderCompID)
	orderBuy.SetTargetCompID(sessionID.TargetCompID)
	if err := quickfix.Send(orderBuy); err != nil {
		log.Println(err)
	}
}

func sendMessageCancelOrder(sessionID quickfix.SessionID) {
	clOrdID := randSeq(17)
	order := newLimitOrder(sessionID, enum.Side_BUY, "GOOG", 95_50, 20)
	order.SetClOrdID(clOrdID)
	if err := quickfix.Send(order); err != nil {
		log.Println(err)
	}

	cancel := fix42ocr.New(
		field.NewOrigClOrdID(clOrdID),
		field.NewClOrdID(randSeq(17)),
		field.NewSymbol("GOOG"),
		field.NewSide(enum.Side_BUY),
		field.NewTransactTime(time.Now()))
	cancel.SetSenderCompID(sessionID.SenderCompID)
	cancel.SetTargetCompID(sessionID.TargetCompID)
	if err := quickfix.Send(cancel); err != nil {
		log.Println(err)
	}
}

// newLimitOrder builds a limit order with the price in cents.
func newLimitOrder(sessionID quickfix.SessionID, side enum.Side, symbol string, priceCents int64, qty int64) fix42nos.NewOrderSingle {
	order := fix42nos.New(
		field.NewClOrdID(randSeq(17)),
		field.NewHandlInst(enum.HandlInst_AUTOMATED_EXECUTION_ORDER_PRIVATE_NO_BROKER_INTERVENTION),
		field.NewSymbol(symbol),
		field.NewSide(side),
		field.NewTransactTime(time.Now()),
		field.NewOrdType(enum.OrdType_LIMIT))
	order.SetPrice(decimal.New(priceCents, -2), 2)
	order.SetOrderQty(decimal.NewFromInt(qty), 0)
	order.SetTimeInForce(enum.TimeInForce_DAY)
	order.SetSenderCompID(sessionID.SenderCompID)
	order.SetTargetCompID(sessionID.TargetCompID)
	return order
}

func main() {
	cfgPath := os.Args[1]
	log.Println("cfgPath:", cfgPath)
	app := newInitiatorApp()

	cfg, err := os.Open(cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	defer cfg.Close() // nolint

	settings, err := quickfix.ParseSettings(cfg)
	if err != nil {
		log.Fatal(err)
	}

	storeFactory := quickfix.NewMemoryStoreFactory()
	logFactory, _ := file.NewLogFactory(settings)
	initiator, err := quickfix.NewInitiator(app, storeFactory, settings, logFactory)
	if err != nil {
		log.Fatal(err)
	}
	err = initiator.Start()
	if err != nil {
		log.Fatal(err)
	}
	log.Println("Initiator started...")
	select {}
}

var letters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

func randSeq(n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
