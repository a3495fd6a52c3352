package gateway

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/quickfixgo/tag"

	"github.com/joripage/fix-exchange/pkg/engine"
	"github.com/joripage/fix-exchange/pkg/eventstore"
	"github.com/joripage/fix-exchange/pkg/fix"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) messages(tb testing.TB) []*fix.Message {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*fix.Message, 0, len(t.sent))
	for _, data := range t.sent {
		msg, err := fix.Parse(data)
		if err != nil {
			tb.Fatalf("gateway emitted unparseable frame %q: %v", data, err)
		}
		out = append(out, msg)
	}
	return out
}

// waitForReports polls until n execution reports have been sent to the
// connection; admin traffic is filtered out.
func (t *fakeTransport) waitForReports(tb testing.TB, n int) []*fix.Message {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		var reports []*fix.Message
		for _, msg := range t.messages(tb) {
			if msg.MsgType() == "8" {
				reports = append(reports, msg)
			}
		}
		if len(reports) >= n {
			return reports
		}
		if time.Now().After(deadline) {
			tb.Fatalf("timed out waiting for %d reports, have %d", n, len(reports))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type testClient struct {
	t         *testing.T
	gw        *Gateway
	connID    uint64
	transport *fakeTransport
	seq       int
}

var nextConnID uint64

func connect(t *testing.T, gw *Gateway) *testClient {
	t.Helper()
	nextConnID++
	c := &testClient{t: t, gw: gw, connID: nextConnID, transport: &fakeTransport{}, seq: 1}
	gw.OnConnect(c.connID, "127.0.0.1:50000", c.transport)
	c.send("A", func(m *fix.Message) {
		m.SetInt(tag.EncryptMethod, 0)
		m.SetInt(tag.HeartBtInt, 30)
	})
	return c
}

func (c *testClient) send(msgType string, set func(*fix.Message)) {
	c.t.Helper()
	m := fix.NewMessage().
		SetString(tag.MsgType, msgType).
		SetString(tag.SenderCompID, "CLIENT1").
		SetString(tag.TargetCompID, "EXCHANGE").
		SetInt(tag.MsgSeqNum, c.seq).
		SetString(tag.SendingTime, fix.FormatUTCTimestamp(time.Now()))
	c.seq++
	if set != nil {
		set(m)
	}
	if err := c.gw.OnBytes(c.connID, fix.Serialize(m)); err != nil {
		c.t.Fatalf("OnBytes(%s): %v", msgType, err)
	}
}

func (c *testClient) newOrder(clOrdID, symbol, side, qty, ordType, price string) {
	c.t.Helper()
	c.send("D", func(m *fix.Message) {
		m.SetString(tag.ClOrdID, clOrdID)
		m.SetString(tag.Symbol, symbol)
		m.SetString(tag.Side, side)
		m.SetString(tag.OrderQty, qty)
		m.SetString(tag.OrdType, ordType)
		if price != "" {
			m.SetString(tag.Price, price)
		}
	})
}

func newTestGateway(t *testing.T) (*Gateway, *eventstore.InMemoryEventStore) {
	t.Helper()
	eng, err := engine.NewMatchingEngine(nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	eng.Start()
	t.Cleanup(eng.Stop)

	gw := NewGateway(&Config{LocalCompID: "EXCHANGE"}, eng)
	t.Cleanup(gw.Stop)
	eng.SetExecutionCallback(gw.OnExecutionReport)

	store := eventstore.NewInMemoryEventStore()
	gw.SetOrderEventSink(store)
	return gw, store
}

func TestOrderAdmissionRoundTrip(t *testing.T) {
	gw, store := newTestGateway(t)
	c := connect(t, gw)

	c.newOrder("ORD-1", "AAPL", "1", "10", "2", "100.00")

	reports := c.transport.waitForReports(t, 1)
	r := reports[0]

	if v, _ := r.GetString(tag.OrdStatus); v != "0" {
		t.Errorf("39 = %q, want 0 (New)", v)
	}
	if v, _ := r.GetString(tag.ClOrdID); v != "ORD-1" {
		t.Errorf("11 = %q", v)
	}
	if v, _ := r.GetString(tag.Symbol); v != "AAPL" {
		t.Errorf("55 = %q", v)
	}
	if v, _ := r.GetString(tag.LeavesQty); v != "10" {
		t.Errorf("151 = %q", v)
	}
	if v, _ := r.GetString(tag.CumQty); v != "0" {
		t.Errorf("14 = %q", v)
	}
	if !r.Has(tag.ExecID) || !r.Has(tag.TransactTime) {
		t.Errorf("missing ExecID/TransactTime")
	}

	orderID, _ := r.GetInt(tag.OrderID)
	events := store.Events(uint64(orderID))
	if len(events) != 1 || events[0].ExecType != eventstore.ExecTypeNew {
		t.Errorf("event trail = %+v", events)
	}
}

func TestCrossProducesFillReports(t *testing.T) {
	gw, _ := newTestGateway(t)
	c := connect(t, gw)

	c.newOrder("SELL-1", "MSFT", "2", "10", "2", "50.00")
	c.transport.waitForReports(t, 1)

	c.newOrder("BUY-1", "MSFT", "1", "8", "2", "50.00")
	reports := c.transport.waitForReports(t, 3)

	// New(sell), then fills for aggressor and maker in execution order
	var buyFill, sellFill *fix.Message
	for _, r := range reports[1:] {
		clOrdID, _ := r.GetString(tag.ClOrdID)
		switch clOrdID {
		case "BUY-1":
			buyFill = r
		case "SELL-1":
			sellFill = r
		}
	}
	if buyFill == nil || sellFill == nil {
		t.Fatalf("missing fill reports")
	}

	if v, _ := buyFill.GetString(tag.OrdStatus); v != "2" {
		t.Errorf("buy 39 = %q, want 2 (Filled)", v)
	}
	if v, _ := buyFill.GetString(tag.LastShares); v != "8" {
		t.Errorf("buy 32 = %q", v)
	}
	if v, _ := buyFill.GetString(tag.LastPx); v != "50" {
		t.Errorf("buy 31 = %q", v)
	}
	if v, _ := sellFill.GetString(tag.OrdStatus); v != "1" {
		t.Errorf("sell 39 = %q, want 1 (PartiallyFilled)", v)
	}
	if v, _ := sellFill.GetString(tag.LeavesQty); v != "2" {
		t.Errorf("sell 151 = %q", v)
	}
}

func TestValidationRejects(t *testing.T) {
	gw, _ := newTestGateway(t)

	cases := []struct {
		name string
		set  func(*fix.Message)
	}{
		{"missing qty", func(m *fix.Message) {
			m.SetString(tag.ClOrdID, "X").SetString(tag.Symbol, "AAPL").
				SetString(tag.Side, "1").SetString(tag.OrdType, "2").
				SetString(tag.Price, "10.00")
		}},
		{"bad side", func(m *fix.Message) {
			m.SetString(tag.ClOrdID, "X").SetString(tag.Symbol, "AAPL").
				SetString(tag.Side, "9").SetString(tag.OrderQty, "10").
				SetString(tag.OrdType, "2").SetString(tag.Price, "10.00")
		}},
		{"limit without price", func(m *fix.Message) {
			m.SetString(tag.ClOrdID, "X").SetString(tag.Symbol, "AAPL").
				SetString(tag.Side, "1").SetString(tag.OrderQty, "10").
				SetString(tag.OrdType, "2")
		}},
		{"market with price", func(m *fix.Message) {
			m.SetString(tag.ClOrdID, "X").SetString(tag.Symbol, "AAPL").
				SetString(tag.Side, "1").SetString(tag.OrderQty, "10").
				SetString(tag.OrdType, "1").SetString(tag.Price, "10.00")
		}},
		{"too many decimals", func(m *fix.Message) {
			m.SetString(tag.ClOrdID, "X").SetString(tag.Symbol, "AAPL").
				SetString(tag.Side, "1").SetString(tag.OrderQty, "10").
				SetString(tag.OrdType, "2").SetString(tag.Price, "10.00001")
		}},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := connect(t, gw)
			c.send("D", tc.set)
			reports := c.transport.waitForReports(t, 1)
			r := reports[0]
			if v, _ := r.GetString(tag.OrdStatus); v != "8" {
				t.Fatalf("39 = %q, want 8 (Rejected)", v)
			}
			if text, ok := r.GetString(tag.Text); !ok || text == "" {
				t.Errorf("case %d: no reject reason", i)
			}
		})
	}
}

func TestCancelFlow(t *testing.T) {
	gw, store := newTestGateway(t)
	c := connect(t, gw)

	c.newOrder("ORD-1", "GOOG", "1", "10", "2", "95.00")
	c.transport.waitForReports(t, 1)

	c.send("F", func(m *fix.Message) {
		m.SetString(tag.OrigClOrdID, "ORD-1")
		m.SetString(tag.ClOrdID, "CXL-1")
		m.SetString(tag.Symbol, "GOOG")
		m.SetString(tag.Side, "1")
	})

	reports := c.transport.waitForReports(t, 2)
	r := reports[1]
	if v, _ := r.GetString(tag.OrdStatus); v != "4" {
		t.Errorf("39 = %q, want 4 (Canceled)", v)
	}
	if v, _ := r.GetString(tag.ClOrdID); v != "CXL-1" {
		t.Errorf("11 = %q, want the cancel's ClOrdID", v)
	}

	if chain := store.ReconstructChain("CXL-1"); len(chain) != 2 || chain[1] != "ORD-1" {
		t.Errorf("clordid chain = %v", chain)
	}
}

func TestCancelUnknownOrderRejected(t *testing.T) {
	gw, _ := newTestGateway(t)
	c := connect(t, gw)

	c.send("F", func(m *fix.Message) {
		m.SetString(tag.OrigClOrdID, "NEVER-SEEN")
		m.SetString(tag.ClOrdID, "CXL-1")
		m.SetString(tag.Symbol, "GOOG")
		m.SetString(tag.Side, "1")
	})

	reports := c.transport.waitForReports(t, 1)
	if v, _ := reports[0].GetString(tag.OrdStatus); v != "8" {
		t.Errorf("39 = %q, want 8", v)
	}
}

func TestCancelReplaceFlow(t *testing.T) {
	gw, _ := newTestGateway(t)
	c := connect(t, gw)

	c.newOrder("ORD-1", "TSLA", "1", "10", "2", "200.00")
	c.transport.waitForReports(t, 1)

	c.send("G", func(m *fix.Message) {
		m.SetString(tag.OrigClOrdID, "ORD-1")
		m.SetString(tag.ClOrdID, "RPL-1")
		m.SetString(tag.Symbol, "TSLA")
		m.SetString(tag.Side, "1")
		m.SetString(tag.OrderQty, "15")
		m.SetString(tag.OrdType, "2")
		m.SetString(tag.Price, "201.00")
	})

	reports := c.transport.waitForReports(t, 2)
	r := reports[1]
	if v, _ := r.GetString(tag.OrdStatus); v != "0" {
		t.Errorf("39 = %q, want 0 (replacement rested as New)", v)
	}
	if v, _ := r.GetString(tag.ClOrdID); v != "RPL-1" {
		t.Errorf("11 = %q", v)
	}
	if v, _ := r.GetString(tag.OrderQty); v != "15" {
		t.Errorf("38 = %q", v)
	}
}

func TestUnsupportedAppTypeRejected(t *testing.T) {
	gw, _ := newTestGateway(t)
	c := connect(t, gw)

	// an inbound ExecutionReport makes no sense at a venue
	c.send("8", func(m *fix.Message) {
		m.SetString(tag.OrderID, "1")
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs := c.transport.messages(t)
		if len(msgs) > 0 && msgs[len(msgs)-1].MsgType() == "3" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no session reject")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDisconnectOrphansReports(t *testing.T) {
	gw, _ := newTestGateway(t)
	c := connect(t, gw)

	c.newOrder("ORD-1", "NVDA", "1", "10", "2", "120.00")
	reports := c.transport.waitForReports(t, 1)
	orderID, _ := reports[0].GetInt(tag.OrderID)

	gw.OnDisconnect(c.connID)

	// the resting order survives the disconnect; a later report finds no home
	if err := gw.engine.CancelOrder(uint64(orderID), "operator cancel"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for gw.OrphanedReports() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("orphan counter never moved")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConcurrentClientsKeepPerSessionOrder(t *testing.T) {
	gw, _ := newTestGateway(t)

	const perClient = 20
	clients := []*testClient{connect(t, gw), connect(t, gw)}
	for i, c := range clients {
		go func(i int, c *testClient) {
			for n := 0; n < perClient; n++ {
				// non-crossing prices keep every order resting
				c.newOrder(
					fmt.Sprintf("C%d-%d", i, n), "AMZN", "1", "1", "2",
					fmt.Sprintf("%d.00", 10+n),
				)
			}
		}(i, c)
	}

	for _, c := range clients {
		reports := c.transport.waitForReports(t, perClient)
		seen := map[string]bool{}
		for _, r := range reports {
			clOrdID, _ := r.GetString(tag.ClOrdID)
			seen[clOrdID] = true
		}
		if len(seen) != perClient {
			t.Errorf("distinct reports = %d, want %d", len(seen), perClient)
		}
	}
}
