package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/joripage/fix-exchange/pkg/orderbook"
)

type MatchingMode string

const (
	ModeContinuous  MatchingMode = "CONTINUOUS"
	ModeAuction     MatchingMode = "AUCTION"      // reserved, not matched
	ModeCallAuction MatchingMode = "CALL_AUCTION" // reserved, not matched
)

type ExecutionCallback func(*ExecutionReport)
type MarketDataCallback func(*MarketDataSnapshot)
type TradeCallback func(orderbook.Trade)
type ErrorCallback func(error)

type Config struct {
	MatchingMode       MatchingMode
	EnableRiskCheck    bool
	EnableMarketData   bool
	MaxOrderPrice      float64
	MaxOrderQuantity   int64
	MaxOrdersPerSymbol int
	MaxProcessingTime  time.Duration
	QueueSize          int
}

func DefaultConfig() *Config {
	return &Config{
		MatchingMode:       ModeContinuous,
		EnableRiskCheck:    true,
		EnableMarketData:   true,
		MaxOrderPrice:      10000.00,
		MaxOrderQuantity:   1_000_000,
		MaxOrdersPerSymbol: 10_000,
		MaxProcessingTime:  time.Millisecond,
		QueueSize:          65536,
	}
}

// MatchingEngine owns every order book and serializes all mutations through
// one command queue drained by a single goroutine. Queries read through each
// book's read lock and never touch the queue.
type MatchingEngine struct {
	cfg *Config

	books   map[string]*orderbook.Book
	booksMu sync.RWMutex

	// orderID -> symbol, for cancel/modify routing and FindOrder. Entries
	// are removed when the order goes terminal.
	orderSymbols   map[uint64]string
	orderSymbolsMu sync.Mutex

	commands chan *command
	sendMu   sync.RWMutex
	running  bool
	errored  atomic.Bool
	done     chan struct{}

	nextOrderID atomic.Uint64
	epoch       time.Time

	lastTrades   map[string]orderbook.Trade
	lastTradesMu sync.Mutex

	execCb  ExecutionCallback
	mdCb    MarketDataCallback
	tradeCb TradeCallback
	errCb   ErrorCallback

	stats *Statistics
}

func NewMatchingEngine(cfg *Config) (*MatchingEngine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MatchingMode != ModeContinuous {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, cfg.MatchingMode)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	return &MatchingEngine{
		cfg:          cfg,
		books:        make(map[string]*orderbook.Book),
		orderSymbols: make(map[uint64]string),
		commands:     make(chan *command, cfg.QueueSize),
		done:         make(chan struct{}),
		epoch:        time.Now(),
		lastTrades:   make(map[string]orderbook.Trade),
		stats:        NewStatistics(),
	}, nil
}

func (e *MatchingEngine) SetExecutionCallback(cb ExecutionCallback) { e.execCb = cb }

func (e *MatchingEngine) SetMarketDataCallback(cb MarketDataCallback) { e.mdCb = cb }

func (e *MatchingEngine) SetTradeCallback(cb TradeCallback) { e.tradeCb = cb }

func (e *MatchingEngine) SetErrorCallback(cb ErrorCallback) { e.errCb = cb }

func (e *MatchingEngine) Statistics() *Statistics { return e.stats }

// NextOrderID hands out engine order ids, monotonic from 1. The gateway
// calls this at admission so the routing entry exists before any report.
func (e *MatchingEngine) NextOrderID() uint64 {
	return e.nextOrderID.Add(1)
}

func (e *MatchingEngine) Start() {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if e.running {
		return
	}
	e.running = true
	go e.run()
}

// Stop closes the command queue; the engine task drains what is already
// enqueued and exits.
func (e *MatchingEngine) Stop() {
	e.sendMu.Lock()
	if !e.running {
		e.sendMu.Unlock()
		return
	}
	e.running = false
	close(e.commands)
	e.sendMu.Unlock()

	<-e.done
}

func (e *MatchingEngine) IsRunning() bool {
	e.sendMu.RLock()
	defer e.sendMu.RUnlock()
	return e.running
}

// SubmitOrder enqueues a new order and returns immediately.
func (e *MatchingEngine) SubmitOrder(order *orderbook.Order) error {
	return e.enqueue(&command{typ: cmdSubmit, order: order})
}

// CancelOrder enqueues a cancel and returns immediately.
func (e *MatchingEngine) CancelOrder(orderID uint64, reason string) error {
	return e.enqueue(&command{typ: cmdCancel, orderID: orderID, reason: reason})
}

// ModifyOrder enqueues a cancel-then-new modify. Both steps run back to back
// on the engine task, so no other command interleaves between them.
func (e *MatchingEngine) ModifyOrder(orderID uint64, newPrice float64, newQty int64) error {
	return e.enqueue(&command{typ: cmdModify, orderID: orderID, newPrice: newPrice, newQty: newQty})
}

// SubmitOrderSync runs a submit through the command queue and blocks until
// the engine task has processed it. Test harness path.
func (e *MatchingEngine) SubmitOrderSync(order *orderbook.Order) (*ExecutionReport, error) {
	reply := make(chan *ExecutionReport, 1)
	if err := e.enqueue(&command{typ: cmdSubmit, order: order, reply: reply}); err != nil {
		return nil, err
	}
	return <-reply, nil
}

// CancelOrderSync is the blocking counterpart of CancelOrder.
func (e *MatchingEngine) CancelOrderSync(orderID uint64, reason string) (*ExecutionReport, error) {
	reply := make(chan *ExecutionReport, 1)
	if err := e.enqueue(&command{typ: cmdCancel, orderID: orderID, reason: reason, reply: reply}); err != nil {
		return nil, err
	}
	return <-reply, nil
}

func (e *MatchingEngine) enqueue(cmd *command) error {
	e.sendMu.RLock()
	defer e.sendMu.RUnlock()
	if !e.running {
		return ErrShutdown
	}
	cmd.enqueuedAt = time.Now()
	select {
	case e.commands <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

func (e *MatchingEngine) run() {
	defer close(e.done)
	for cmd := range e.commands {
		start := time.Now()
		reports := e.process(cmd)
		elapsed := time.Since(start)

		e.stats.OrdersProcessed.Add(1)
		e.stats.recordProcessing(elapsed)
		if elapsed > e.cfg.MaxProcessingTime && e.errCb != nil {
			e.errCb(fmt.Errorf("command processing took %v, budget %v", elapsed, e.cfg.MaxProcessingTime))
		}

		// Reports were buffered during the critical section; flush outside it.
		for _, r := range reports {
			if e.execCb != nil {
				e.execCb(r)
			}
		}
		if cmd.reply != nil {
			var final *ExecutionReport
			subject := cmd.orderID
			if cmd.order != nil {
				subject = cmd.order.ID
			}
			for _, r := range reports {
				if r.OrderID == subject {
					final = r
				}
			}
			cmd.reply <- final
		}
	}
}

func (e *MatchingEngine) process(cmd *command) []*ExecutionReport {
	if e.errored.Load() {
		return e.rejectCommand(cmd, "engine unavailable")
	}

	switch cmd.typ {
	case cmdSubmit:
		return e.processSubmit(cmd.order)
	case cmdCancel:
		return e.processCancel(cmd.orderID, cmd.reason)
	case cmdModify:
		return e.processModify(cmd.orderID, cmd.newPrice, cmd.newQty)
	}
	return nil
}

func (e *MatchingEngine) rejectCommand(cmd *command, reason string) []*ExecutionReport {
	e.stats.OrdersRejected.Add(1)
	if cmd.order != nil {
		return []*ExecutionReport{rejectReportFor(*cmd.order, reason)}
	}
	return []*ExecutionReport{{
		OrderID:   cmd.orderID,
		Status:    orderbook.StatusRejected,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}}
}

func (e *MatchingEngine) processSubmit(order *orderbook.Order) []*ExecutionReport {
	if order.ID == 0 {
		order.ID = e.NextOrderID()
	}
	order.AdmittedAt = time.Since(e.epoch).Nanoseconds()
	if order.Status == "" {
		order.Status = orderbook.StatusNew
	}
	if order.Remain == 0 {
		order.Remain = order.Qty
	}

	if reason, ok := e.riskCheck(order); !ok {
		e.stats.OrdersRejected.Add(1)
		return []*ExecutionReport{rejectReportFor(*order, reason)}
	}

	book := e.getOrCreateBook(order.Symbol)
	e.trackOrder(order.ID, order.Symbol)

	trades, makers := book.Submit(order)

	var reports []*ExecutionReport
	if order.Status == orderbook.StatusNew && len(trades) == 0 {
		// rested untouched
		reports = append(reports, reportFor(*order))
	}
	for i, t := range trades {
		e.stats.recordTrade(t.Qty, t.Price)
		aggressor := *order
		// Reconstruct the aggressor's state as of this execution step so the
		// report sequence is causal even though we snapshot after the loop.
		var cum int64
		for _, prior := range trades[:i+1] {
			cum += prior.Qty
		}
		aggressor.Remain = order.Qty - cum
		if aggressor.Remain == 0 {
			aggressor.Status = orderbook.StatusFilled
		} else {
			aggressor.Status = orderbook.StatusPartiallyFilled
		}
		reports = append(reports, fillReportFor(aggressor, t))
		reports = append(reports, fillReportFor(makers[i], t))
		if makers[i].IsTerminal() {
			e.untrackOrder(makers[i].ID)
		}
		e.recordLastTrade(t)
		if e.tradeCb != nil {
			e.tradeCb(t)
		}
	}

	switch order.Status {
	case orderbook.StatusRejected:
		e.stats.OrdersRejected.Add(1)
		reason := "insufficient liquidity"
		if order.TIF == orderbook.FOK {
			reason = "fill-or-kill not fillable"
		}
		reports = append(reports, rejectReportFor(*order, reason))
	case orderbook.StatusCancelled:
		reports = append(reports, reportFor(*order))
	}
	if order.IsTerminal() {
		e.untrackOrder(order.ID)
	}

	e.checkBookInvariants(book)
	e.publishMarketData(book)

	return reports
}

func (e *MatchingEngine) processCancel(orderID uint64, reason string) []*ExecutionReport {
	symbol, ok := e.lookupOrder(orderID)
	if !ok {
		e.stats.OrdersRejected.Add(1)
		return []*ExecutionReport{{
			OrderID:   orderID,
			Status:    orderbook.StatusRejected,
			Reason:    "order not found",
			Timestamp: time.Now().UTC(),
		}}
	}

	book := e.getOrCreateBook(symbol)
	snapshot, ok := book.Cancel(orderID)
	if !ok {
		e.stats.OrdersRejected.Add(1)
		return []*ExecutionReport{{
			OrderID:   orderID,
			Symbol:    symbol,
			Status:    orderbook.StatusRejected,
			Reason:    "order not found",
			Timestamp: time.Now().UTC(),
		}}
	}

	e.untrackOrder(orderID)
	r := reportFor(snapshot)
	r.Reason = reason

	e.publishMarketData(book)
	return []*ExecutionReport{r}
}

// processModify is cancel-then-new on the engine task: the order loses time
// priority and keeps its id.
func (e *MatchingEngine) processModify(orderID uint64, newPrice float64, newQty int64) []*ExecutionReport {
	symbol, ok := e.lookupOrder(orderID)
	if !ok {
		e.stats.OrdersRejected.Add(1)
		return []*ExecutionReport{{
			OrderID:   orderID,
			Status:    orderbook.StatusRejected,
			Reason:    "order not found",
			Timestamp: time.Now().UTC(),
		}}
	}

	book := e.getOrCreateBook(symbol)
	snapshot, ok := book.Cancel(orderID)
	if !ok {
		e.stats.OrdersRejected.Add(1)
		return []*ExecutionReport{{
			OrderID:   orderID,
			Symbol:    symbol,
			Status:    orderbook.StatusRejected,
			Reason:    "order not found",
			Timestamp: time.Now().UTC(),
		}}
	}
	e.untrackOrder(orderID)

	replacement := &orderbook.Order{
		ID:       snapshot.ID,
		ClientID: snapshot.ClientID,
		Symbol:   snapshot.Symbol,
		Side:     snapshot.Side,
		Type:     snapshot.Type,
		Price:    newPrice,
		Qty:      newQty,
		Remain:   newQty,
		TIF:      snapshot.TIF,
		Status:   orderbook.StatusNew,
	}
	return e.processSubmit(replacement)
}

func (e *MatchingEngine) riskCheck(order *orderbook.Order) (string, bool) {
	if order.Symbol == "" {
		return "empty symbol", false
	}
	if order.Qty <= 0 {
		return "quantity must be positive", false
	}
	switch order.Type {
	case orderbook.LIMIT:
		if order.Price <= 0 {
			return "limit price must be positive", false
		}
	case orderbook.MARKET:
		if order.Price != 0 {
			return "market order must not carry a price", false
		}
	default:
		return fmt.Sprintf("order type %s not supported", order.Type), false
	}

	if !e.cfg.EnableRiskCheck {
		return "", true
	}

	if order.Price > e.cfg.MaxOrderPrice {
		return fmt.Sprintf("price %.4f exceeds limit %.4f", order.Price, e.cfg.MaxOrderPrice), false
	}
	if order.Qty > e.cfg.MaxOrderQuantity {
		return fmt.Sprintf("quantity %d exceeds limit %d", order.Qty, e.cfg.MaxOrderQuantity), false
	}
	if book := e.findBook(order.Symbol); book != nil && book.Size() >= e.cfg.MaxOrdersPerSymbol {
		return fmt.Sprintf("symbol %s order limit reached", order.Symbol), false
	}
	return "", true
}

func (e *MatchingEngine) getOrCreateBook(symbol string) *orderbook.Book {
	e.booksMu.RLock()
	book := e.books[symbol]
	e.booksMu.RUnlock()
	if book != nil {
		return book
	}

	e.booksMu.Lock()
	defer e.booksMu.Unlock()
	if book = e.books[symbol]; book == nil {
		book = orderbook.NewBook(symbol)
		e.books[symbol] = book
		zap.S().Infow("order book created", "symbol", symbol)
	}
	return book
}

func (e *MatchingEngine) findBook(symbol string) *orderbook.Book {
	e.booksMu.RLock()
	defer e.booksMu.RUnlock()
	return e.books[symbol]
}

func (e *MatchingEngine) trackOrder(orderID uint64, symbol string) {
	e.orderSymbolsMu.Lock()
	e.orderSymbols[orderID] = symbol
	e.orderSymbolsMu.Unlock()
}

func (e *MatchingEngine) untrackOrder(orderID uint64) {
	e.orderSymbolsMu.Lock()
	delete(e.orderSymbols, orderID)
	e.orderSymbolsMu.Unlock()
}

func (e *MatchingEngine) lookupOrder(orderID uint64) (string, bool) {
	e.orderSymbolsMu.Lock()
	defer e.orderSymbolsMu.Unlock()
	symbol, ok := e.orderSymbols[orderID]
	return symbol, ok
}

func (e *MatchingEngine) recordLastTrade(t orderbook.Trade) {
	e.lastTradesMu.Lock()
	e.lastTrades[t.Symbol] = t
	e.lastTradesMu.Unlock()
}

// FindOrder returns a snapshot of a resting order.
func (e *MatchingEngine) FindOrder(orderID uint64) (orderbook.Order, bool) {
	symbol, ok := e.lookupOrder(orderID)
	if !ok {
		return orderbook.Order{}, false
	}
	book := e.findBook(symbol)
	if book == nil {
		return orderbook.Order{}, false
	}
	return book.Find(orderID)
}

// GetMarketData assembles a top-of-book snapshot for one symbol.
func (e *MatchingEngine) GetMarketData(symbol string) (*MarketDataSnapshot, error) {
	book := e.findBook(symbol)
	if book == nil {
		return nil, fmt.Errorf("%w: no book for %s", ErrOrderNotFound, symbol)
	}
	return e.snapshot(book), nil
}

func (e *MatchingEngine) AllSymbols() []string {
	e.booksMu.RLock()
	defer e.booksMu.RUnlock()
	out := make([]string, 0, len(e.books))
	for symbol := range e.books {
		out = append(out, symbol)
	}
	return out
}

func (e *MatchingEngine) snapshot(book *orderbook.Book) *MarketDataSnapshot {
	md := &MarketDataSnapshot{
		Symbol:    book.Symbol(),
		Timestamp: time.Now().UTC(),
	}
	if bid, ok := book.BestBid(); ok {
		md.BidPrice = bid
		md.BidQty = book.BidQtyAtTop()
	}
	if ask, ok := book.BestAsk(); ok {
		md.AskPrice = ask
		md.AskQty = book.AskQtyAtTop()
	}
	e.lastTradesMu.Lock()
	if t, ok := e.lastTrades[book.Symbol()]; ok {
		md.LastTradePx = t.Price
		md.LastTradeQty = t.Qty
	}
	e.lastTradesMu.Unlock()
	return md
}

func (e *MatchingEngine) publishMarketData(book *orderbook.Book) {
	if !e.cfg.EnableMarketData || e.mdCb == nil {
		return
	}
	e.mdCb(e.snapshot(book))
}

// checkBookInvariants guards against index corruption. A crossed book at
// rest is unrecoverable; the engine refuses further commands.
func (e *MatchingEngine) checkBookInvariants(book *orderbook.Book) {
	bid, okBid := book.BestBid()
	ask, okAsk := book.BestAsk()
	if okBid && okAsk && bid >= ask {
		e.errored.Store(true)
		err := fmt.Errorf("book %s crossed at rest: bid=%.4f ask=%.4f", book.Symbol(), bid, ask)
		zap.S().Errorw("invariant violation", "err", err)
		if e.errCb != nil {
			e.errCb(err)
		}
	}
}
