package fixserver

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/joripage/fix-exchange/pkg/fix"
)

const readBufferSize = 4096

// Handler receives connection lifecycle events. The gateway implements it.
type Handler interface {
	OnConnect(connID uint64, peerAddr string, transport fix.Transport)
	OnBytes(connID uint64, data []byte) error
	OnDisconnect(connID uint64)
}

type Config struct {
	ListenAddr     string
	MaxConnections int
}

// Server is the TCP acceptor: one reader goroutine per connection, bytes
// handed to the handler as they arrive. It knows nothing about FIX beyond
// the transport interface it hands out.
type Server struct {
	cfg     *Config
	handler Handler

	ln         net.Listener
	conns      sync.Map // connID -> *tcpTransport
	nextConnID atomic.Uint64
	connCount  atomic.Int64
	closing    atomic.Bool
	wg         sync.WaitGroup
}

func NewServer(cfg *Config, handler Handler) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1000
	}
	return &Server{cfg: cfg, handler: handler}
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.ln = ln
	zap.S().Infow("fix server listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr is the bound listen address, useful when the config asked for :0.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) Stop() error {
	s.closing.Store(true)
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.conns.Range(func(_, v interface{}) bool {
		_ = v.(*tcpTransport).Close()
		return true
	})
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			zap.S().Warnw("accept failed", "err", err)
			continue
		}

		if s.connCount.Load() >= int64(s.cfg.MaxConnections) {
			zap.S().Warnw("connection limit reached, refusing",
				"peer", conn.RemoteAddr().String(), "limit", s.cfg.MaxConnections)
			_ = conn.Close()
			continue
		}

		connID := s.nextConnID.Add(1)
		transport := &tcpTransport{conn: conn}
		s.conns.Store(connID, transport)
		s.connCount.Add(1)

		s.handler.OnConnect(connID, conn.RemoteAddr().String(), transport)

		s.wg.Add(1)
		go s.readLoop(connID, transport)
	}
}

func (s *Server) readLoop(connID uint64, transport *tcpTransport) {
	defer s.wg.Done()
	defer func() {
		_ = transport.Close()
		s.conns.Delete(connID)
		s.connCount.Add(-1)
		s.handler.OnDisconnect(connID)
	}()

	buf := make([]byte, readBufferSize)
	for {
		n, err := transport.conn.Read(buf)
		if n > 0 {
			if herr := s.handler.OnBytes(connID, buf[:n]); herr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// tcpTransport adapts one net.Conn to the session transport. Writes are
// serialized so interleaved sessions cannot shear a frame.
type tcpTransport struct {
	conn    net.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

func (t *tcpTransport) Send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed.Load() {
		return net.ErrClosed
	}
	_, err := t.conn.Write(data)
	return err
}

func (t *tcpTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.conn.Close()
}
