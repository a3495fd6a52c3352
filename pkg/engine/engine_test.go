package engine

import (
	"testing"
	"time"

	"github.com/joripage/fix-exchange/pkg/orderbook"
)

func newTestEngine(t *testing.T) *MatchingEngine {
	t.Helper()
	e, err := NewMatchingEngine(nil)
	if err != nil {
		t.Fatalf("NewMatchingEngine: %v", err)
	}
	e.Start()
	t.Cleanup(e.Stop)
	return e
}

func limitOrder(side orderbook.Side, price float64, qty int64) *orderbook.Order {
	return &orderbook.Order{
		ClientID: "client-1",
		Symbol:   "AAPL",
		Side:     side,
		Type:     orderbook.LIMIT,
		Price:    price,
		Qty:      qty,
		TIF:      orderbook.DAY,
	}
}

func TestSubmitSyncRestsOrder(t *testing.T) {
	e := newTestEngine(t)

	order := limitOrder(orderbook.BUY, 100, 10)
	report, err := e.SubmitOrderSync(order)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if report == nil {
		t.Fatalf("no report")
	}
	if report.Status != orderbook.StatusNew {
		t.Errorf("status = %s, want NEW", report.Status)
	}
	if report.OrderID == 0 {
		t.Errorf("order id not assigned")
	}
	if report.LeavesQty != 10 || report.CumQty != 0 {
		t.Errorf("leaves=%d cum=%d", report.LeavesQty, report.CumQty)
	}

	if found, ok := e.FindOrder(report.OrderID); !ok || found.Remain != 10 {
		t.Errorf("find order = %+v ok=%v", found, ok)
	}
}

func TestSubmitSyncMatches(t *testing.T) {
	e := newTestEngine(t)

	var reports []*ExecutionReport
	e.SetExecutionCallback(func(r *ExecutionReport) { reports = append(reports, r) })

	sellReport, _ := e.SubmitOrderSync(limitOrder(orderbook.SELL, 100, 10))
	buyReport, _ := e.SubmitOrderSync(limitOrder(orderbook.BUY, 100, 8))

	if buyReport.Status != orderbook.StatusFilled || buyReport.CumQty != 8 {
		t.Errorf("buy report = %+v", buyReport)
	}
	if buyReport.LastPrice != 100 || buyReport.LastQty != 8 {
		t.Errorf("buy fill fields = %+v", buyReport)
	}

	// callbacks observed: sell New, buy fill, sell fill
	if len(reports) != 3 {
		t.Fatalf("got %d reports, want 3", len(reports))
	}
	if reports[0].OrderID != sellReport.OrderID || reports[0].Status != orderbook.StatusNew {
		t.Errorf("report 0 = %+v", reports[0])
	}
	makerReport := reports[2]
	if makerReport.OrderID != sellReport.OrderID || makerReport.Status != orderbook.StatusPartiallyFilled || makerReport.LeavesQty != 2 {
		t.Errorf("maker report = %+v", makerReport)
	}
}

func TestRiskRejections(t *testing.T) {
	e := newTestEngine(t)

	cases := []struct {
		name  string
		order *orderbook.Order
	}{
		{"empty symbol", &orderbook.Order{Side: orderbook.BUY, Type: orderbook.LIMIT, Price: 1, Qty: 1}},
		{"zero qty", &orderbook.Order{Symbol: "AAPL", Side: orderbook.BUY, Type: orderbook.LIMIT, Price: 1}},
		{"zero limit price", &orderbook.Order{Symbol: "AAPL", Side: orderbook.BUY, Type: orderbook.LIMIT, Qty: 1}},
		{"priced market", &orderbook.Order{Symbol: "AAPL", Side: orderbook.BUY, Type: orderbook.MARKET, Price: 5, Qty: 1}},
		{"price cap", limitOrder(orderbook.BUY, 1_000_000, 1)},
		{"qty cap", limitOrder(orderbook.BUY, 100, 2_000_000)},
		{"stop unsupported", &orderbook.Order{Symbol: "AAPL", Side: orderbook.BUY, Type: orderbook.STOP, Price: 1, Qty: 1}},
	}

	for _, tc := range cases {
		report, err := e.SubmitOrderSync(tc.order)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if report.Status != orderbook.StatusRejected {
			t.Errorf("%s: status = %s, want REJECTED", tc.name, report.Status)
		}
		if report.Reason == "" {
			t.Errorf("%s: rejection carries no reason", tc.name)
		}
		if report.OrderID == 0 {
			t.Errorf("%s: rejection carries no order id", tc.name)
		}
	}

	if got := e.Statistics().OrdersRejected.Load(); got != uint64(len(cases)) {
		t.Errorf("rejected counter = %d, want %d", got, len(cases))
	}
}

func TestCancelSync(t *testing.T) {
	e := newTestEngine(t)

	report, _ := e.SubmitOrderSync(limitOrder(orderbook.BUY, 100, 10))
	cancelReport, err := e.CancelOrderSync(report.OrderID, "user requested")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelReport.Status != orderbook.StatusCancelled {
		t.Errorf("status = %s", cancelReport.Status)
	}
	if _, ok := e.FindOrder(report.OrderID); ok {
		t.Errorf("cancelled order still findable")
	}
}

func TestCancelUnknownOrderRejected(t *testing.T) {
	e := newTestEngine(t)
	report, err := e.CancelOrderSync(9999, "user requested")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if report.Status != orderbook.StatusRejected || report.Reason == "" {
		t.Errorf("report = %+v", report)
	}
}

func TestCancelFilledOrderRejected(t *testing.T) {
	e := newTestEngine(t)
	sellReport, _ := e.SubmitOrderSync(limitOrder(orderbook.SELL, 100, 5))
	e.SubmitOrderSync(limitOrder(orderbook.BUY, 100, 5))

	report, _ := e.CancelOrderSync(sellReport.OrderID, "late cancel")
	if report.Status != orderbook.StatusRejected {
		t.Errorf("cancel of filled order should reject, got %s", report.Status)
	}
}

func TestModifyLosesTimePriority(t *testing.T) {
	e := newTestEngine(t)

	first, _ := e.SubmitOrderSync(limitOrder(orderbook.BUY, 100, 10))
	second, _ := e.SubmitOrderSync(limitOrder(orderbook.BUY, 100, 10))

	if err := e.ModifyOrder(first.OrderID, 100, 5); err != nil {
		t.Fatalf("modify: %v", err)
	}
	// drain the async modify through a sync no-op
	e.SubmitOrderSync(limitOrder(orderbook.SELL, 200, 1))

	if found, ok := e.FindOrder(first.OrderID); !ok || found.Qty != 5 {
		t.Fatalf("modified order = %+v ok=%v", found, ok)
	}

	// the unmodified order now has priority at the level
	trades, _ := e.SubmitOrderSync(limitOrder(orderbook.SELL, 100, 10))
	if trades.Status != orderbook.StatusFilled {
		t.Fatalf("sell should fill, got %s", trades.Status)
	}
	if found, ok := e.FindOrder(second.OrderID); ok && found.Remain == 10 {
		t.Errorf("second order untouched; modify kept time priority")
	}
}

func TestMarketDataSnapshot(t *testing.T) {
	e := newTestEngine(t)
	e.SubmitOrderSync(limitOrder(orderbook.BUY, 99, 10))
	e.SubmitOrderSync(limitOrder(orderbook.SELL, 101, 7))

	md, err := e.GetMarketData("AAPL")
	if err != nil {
		t.Fatalf("market data: %v", err)
	}
	if md.BidPrice != 99 || md.BidQty != 10 || md.AskPrice != 101 || md.AskQty != 7 {
		t.Errorf("snapshot = %+v", md)
	}

	e.SubmitOrderSync(limitOrder(orderbook.BUY, 101, 2))
	md, _ = e.GetMarketData("AAPL")
	if md.LastTradePx != 101 || md.LastTradeQty != 2 {
		t.Errorf("last trade = %+v", md)
	}
}

func TestStatisticsCounters(t *testing.T) {
	e := newTestEngine(t)

	e.SubmitOrderSync(limitOrder(orderbook.SELL, 100, 10))
	e.SubmitOrderSync(limitOrder(orderbook.BUY, 100, 10))

	stats := e.Statistics()
	if got := stats.OrdersProcessed.Load(); got != 2 {
		t.Errorf("processed = %d", got)
	}
	if got := stats.TradesExecuted.Load(); got != 1 {
		t.Errorf("trades = %d", got)
	}
	if got := stats.TotalVolume.Load(); got != 10 {
		t.Errorf("volume = %d", got)
	}
	if got := stats.TotalValueCents.Load(); got != 100*100*10 {
		t.Errorf("value cents = %d", got)
	}
	if stats.MaxProcessingNs.Load() == 0 {
		t.Errorf("processing time not recorded")
	}
}

func TestProcessingTimeWarning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxProcessingTime = time.Nanosecond

	e, err := NewMatchingEngine(cfg)
	if err != nil {
		t.Fatalf("NewMatchingEngine: %v", err)
	}
	warned := make(chan error, 1)
	e.SetErrorCallback(func(err error) {
		select {
		case warned <- err:
		default:
		}
	})
	e.Start()
	defer e.Stop()

	e.SubmitOrderSync(limitOrder(orderbook.BUY, 100, 1))
	select {
	case <-warned:
	case <-time.After(time.Second):
		t.Fatalf("no timeout warning raised")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	e, _ := NewMatchingEngine(nil)
	e.Start()
	e.Stop()
	if err := e.SubmitOrder(limitOrder(orderbook.BUY, 100, 1)); err != ErrShutdown {
		t.Errorf("err = %v, want ErrShutdown", err)
	}
}

func TestUnknownModeRefused(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MatchingMode = ModeAuction
	if _, err := NewMatchingEngine(cfg); err == nil {
		t.Fatalf("auction mode should be refused")
	}
}
