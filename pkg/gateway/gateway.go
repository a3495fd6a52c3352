package gateway

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joripage/go_util/pkg/shardqueue"
	"go.uber.org/zap"

	"github.com/joripage/fix-exchange/pkg/engine"
	"github.com/joripage/fix-exchange/pkg/fix"
)

const (
	numShards = 16
	queueSize = 1_000_000
)

type Config struct {
	LocalCompID       string
	HeartbeatInterval time.Duration
}

// Gateway bridges transport connections to FIX sessions and translates
// application messages between the wire and the matching engine. It owns the
// OrderID -> routing map used to deliver execution reports back to the
// originating connection.
type Gateway struct {
	cfg    *Config
	engine *engine.MatchingEngine

	conns sync.Map // connID uint64 -> *connection

	routes    map[uint64]*route
	reverse   map[clOrdKey]uint64
	routesMu  sync.Mutex
	orphaned  atomic.Uint64
	dispatch  *shardqueue.Shardqueue
	eventSink OrderEventSink

	tickerDone chan struct{}
	tickerOnce sync.Once
}

// route remembers where an order came from so its reports can find the way
// back.
type route struct {
	connID   uint64
	clOrdID  string
	symbol   string
	side     string
	qty      int64
	eventSeq int
}

type clOrdKey struct {
	connID  uint64
	clOrdID string
}

type connection struct {
	id        uint64
	peerAddr  string
	transport fix.Transport
	framer    *fix.Framer
	session   *fix.Session
}

type appMsg struct {
	conn *connection
	msg  *fix.Message
}

func NewGateway(cfg *Config, eng *engine.MatchingEngine) *Gateway {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	g := &Gateway{
		cfg:        cfg,
		engine:     eng,
		routes:     make(map[uint64]*route),
		reverse:    make(map[clOrdKey]uint64),
		tickerDone: make(chan struct{}),
	}

	g.dispatch = shardqueue.NewShardQueue(numShards, queueSize)
	g.dispatch.Start(func(msg interface{}) error {
		if v, ok := msg.(*appMsg); ok {
			g.handleAppMessage(v.conn, v.msg)
		}
		return nil
	})

	go g.runTicker()
	return g
}

// SetOrderEventSink registers an optional order-event consumer fed with every
// admission, fill, cancel and reject the gateway observes.
func (g *Gateway) SetOrderEventSink(sink OrderEventSink) { g.eventSink = sink }

// OrphanedReports counts execution reports dropped because their connection
// was gone by the time they arrived.
func (g *Gateway) OrphanedReports() uint64 { return g.orphaned.Load() }

func (g *Gateway) Stop() {
	g.tickerOnce.Do(func() { close(g.tickerDone) })
	g.conns.Range(func(_, v interface{}) bool {
		_ = v.(*connection).transport.Close()
		return true
	})
}

// OnConnect registers a fresh transport connection and creates its session
// in the Disconnected state. That session drops everything except a Logon
// and only goes live once the peer's Logon arrives.
func (g *Gateway) OnConnect(connID uint64, peerAddr string, transport fix.Transport) {
	conn := &connection{
		id:        connID,
		peerAddr:  peerAddr,
		transport: transport,
		framer:    fix.NewFramer(),
	}
	conn.session = fix.NewSession(fix.SessionConfig{
		LocalCompID:       g.cfg.LocalCompID,
		HeartbeatInterval: g.cfg.HeartbeatInterval,
	}, transport, func(_ *fix.Session, msg *fix.Message) {
		g.dispatch.Shard(strconv.FormatUint(connID, 10), &appMsg{conn: conn, msg: msg})
	})

	g.conns.Store(connID, conn)
	zap.S().Infow("connection accepted", "conn_id", connID, "peer", peerAddr)
}

// OnBytes feeds raw transport bytes through the connection's framer and hands
// every complete frame to the session. A non-nil return means the connection
// is beyond saving and the transport should drop it.
func (g *Gateway) OnBytes(connID uint64, data []byte) error {
	v, ok := g.conns.Load(connID)
	if !ok {
		return fmt.Errorf("unknown connection %d", connID)
	}
	conn := v.(*connection)

	conn.framer.Append(data)
	for {
		frame, err := conn.framer.Next()
		if err != nil {
			zap.S().Warnw("framing error, dropping connection", "conn_id", connID, "err", err)
			return err
		}
		if frame == nil {
			return nil
		}
		if err := conn.session.ProcessIncoming(frame); err != nil {
			zap.S().Warnw("session error, dropping connection", "conn_id", connID, "err", err)
			return err
		}
	}
}

// OnDisconnect tears the session down. Resting orders survive; their routing
// entries stay behind as orphans so late reports are counted, not misrouted.
func (g *Gateway) OnDisconnect(connID uint64) {
	v, ok := g.conns.LoadAndDelete(connID)
	if !ok {
		return
	}
	conn := v.(*connection)
	zap.S().Infow("connection closed", "conn_id", connID, "peer", conn.peerAddr,
		"session_state", conn.session.State())
}

func (g *Gateway) runTicker() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-g.tickerDone:
			return
		case <-ticker.C:
			g.conns.Range(func(_, v interface{}) bool {
				v.(*connection).session.Tick()
				return true
			})
		}
	}
}

func (g *Gateway) trackRoute(orderID uint64, r *route) {
	g.routesMu.Lock()
	g.routes[orderID] = r
	g.reverse[clOrdKey{r.connID, r.clOrdID}] = orderID
	g.routesMu.Unlock()
}

func (g *Gateway) lookupRoute(orderID uint64) (*route, bool) {
	g.routesMu.Lock()
	defer g.routesMu.Unlock()
	r, ok := g.routes[orderID]
	return r, ok
}

func (g *Gateway) resolveClOrdID(connID uint64, clOrdID string) (uint64, bool) {
	g.routesMu.Lock()
	defer g.routesMu.Unlock()
	id, ok := g.reverse[clOrdKey{connID, clOrdID}]
	return id, ok
}

func (g *Gateway) dropRoute(orderID uint64) {
	g.routesMu.Lock()
	if r, ok := g.routes[orderID]; ok {
		delete(g.reverse, clOrdKey{r.connID, r.clOrdID})
		delete(g.routes, orderID)
	}
	g.routesMu.Unlock()
}
