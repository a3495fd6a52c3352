package fix

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/tag"
	"go.uber.org/zap"
)

type SessionState string

const (
	StateDisconnected  SessionState = "DISCONNECTED"
	StatePendingLogon  SessionState = "PENDING_LOGON"
	StateLoggedIn      SessionState = "LOGGED_IN"
	StatePendingLogout SessionState = "PENDING_LOGOUT"
	StateLoggedOut     SessionState = "LOGGED_OUT"
	StateError         SessionState = "ERROR"
)

// UTCTimestampFormat is the FIX SendingTime/TransactTime layout.
const UTCTimestampFormat = "20060102-15:04:05.000"

func FormatUTCTimestamp(t time.Time) string {
	return t.UTC().Format(UTCTimestampFormat)
}

// Transport is the write half of whatever byte stream carries the session.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// AppHandler receives validated application-level messages.
type AppHandler func(s *Session, msg *Message)

type SessionConfig struct {
	LocalCompID string
	// PeerCompID may be empty; the first inbound Logon then binds it.
	PeerCompID        string
	HeartbeatInterval time.Duration
}

// Session implements the FIX 4.2 session machine for one counterparty:
// logon/logout, heartbeats, sequence discipline and admin traffic. Exactly
// one session exists per authenticated connection.
type Session struct {
	cfg       SessionConfig
	transport Transport
	onApp     AppHandler

	mu             sync.Mutex
	state          SessionState
	peerCompID     string
	heartbeat      time.Duration
	outgoingSeq    int
	expectedSeq    int
	lastSent       time.Time
	lastReceived   time.Time
	pendingTestReq bool
	protocolErrors uint64

	now func() time.Time
}

func NewSession(cfg SessionConfig, transport Transport, onApp AppHandler) *Session {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Session{
		cfg:         cfg,
		transport:   transport,
		onApp:       onApp,
		state:       StateDisconnected,
		peerCompID:  cfg.PeerCompID,
		heartbeat:   cfg.HeartbeatInterval,
		outgoingSeq: 1,
		expectedSeq: 1,
		now:         time.Now,
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) PeerCompID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerCompID
}

func (s *Session) LocalCompID() string { return s.cfg.LocalCompID }

func (s *Session) ProtocolErrors() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolErrors
}

// InitiateLogon starts the handshake from our side.
func (s *Session) InitiateLogon() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDisconnected {
		return fmt.Errorf("%w: logon from %s", ErrInvalidState, s.state)
	}
	msg := NewMessage().
		SetString(tag.MsgType, string(enum.MsgType_LOGON)).
		SetString(tag.EncryptMethod, string(enum.EncryptMethod_NONE_OTHER)).
		SetInt(tag.HeartBtInt, int(s.heartbeat/time.Second))
	if err := s.sendLocked(msg); err != nil {
		return err
	}
	s.state = StatePendingLogon
	return nil
}

// InitiateLogout begins a graceful wind-down; inbound admin keeps flowing
// until the peer's Logout or the heartbeat window lapses.
func (s *Session) InitiateLogout(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoggedIn {
		return fmt.Errorf("%w: logout from %s", ErrInvalidState, s.state)
	}
	msg := NewMessage().SetString(tag.MsgType, string(enum.MsgType_LOGOUT))
	if reason != "" {
		msg.SetString(tag.Text, reason)
	}
	if err := s.sendLocked(msg); err != nil {
		return err
	}
	s.state = StatePendingLogout
	return nil
}

// SendApp stamps and sends an application message. Only legal once logged in
// (or while a logout is pending, to flush final reports).
func (s *Session) SendApp(msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoggedIn && s.state != StatePendingLogout {
		return fmt.Errorf("%w: send from %s", ErrInvalidState, s.state)
	}
	return s.sendLocked(msg)
}

// sendLocked stamps header fields, serializes canonically and writes to the
// transport. Callers hold s.mu.
func (s *Session) sendLocked(msg *Message) error {
	msg.SetString(tag.SenderCompID, s.cfg.LocalCompID)
	msg.SetString(tag.TargetCompID, s.peerCompID)
	msg.SetInt(tag.MsgSeqNum, s.outgoingSeq)
	msg.SetString(tag.SendingTime, FormatUTCTimestamp(s.now()))

	if err := s.transport.Send(Serialize(msg)); err != nil {
		return err
	}
	s.outgoingSeq++
	s.lastSent = s.now()
	return nil
}

// ProcessIncoming handles one complete inbound frame. A returned error means
// the session cannot continue and the connection should be dropped.
func (s *Session) ProcessIncoming(frame []byte) error {
	msg, err := Parse(frame)
	if err != nil {
		s.mu.Lock()
		s.protocolErrors++
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateRequiredFields(msg); err != nil {
		s.protocolErrors++
		s.rejectLocked(msg, err.Error())
		return nil
	}

	msgType := msg.MsgType()

	// No session established yet: only a Logon is meaningful. Stray
	// heartbeats and the like from unknown peers are dropped silently.
	if s.state == StateDisconnected && msgType != string(enum.MsgType_LOGON) {
		return nil
	}

	if err := s.validateCompIDs(msg); err != nil {
		s.protocolErrors++
		s.errorLocked(err.Error())
		return err
	}

	if msgType == string(enum.MsgType_SEQUENCE_RESET) {
		s.lastReceived = s.now()
		s.handleSequenceReset(msg)
		return nil
	}

	proceed, err := s.checkSequence(msg)
	if err != nil {
		s.errorLocked(err.Error())
		return err
	}
	if !proceed {
		return nil
	}

	s.lastReceived = s.now()
	s.pendingTestReq = false

	switch msgType {
	case string(enum.MsgType_LOGON):
		s.handleLogon(msg)
	case string(enum.MsgType_LOGOUT):
		s.handleLogout(msg)
	case string(enum.MsgType_HEARTBEAT):
		// liveness bookkeeping above is all a heartbeat is for
	case string(enum.MsgType_TEST_REQUEST):
		s.handleTestRequest(msg)
	case string(enum.MsgType_RESEND_REQUEST):
		s.handleResendRequest(msg)
	case string(enum.MsgType_REJECT):
		text, _ := msg.GetString(tag.Text)
		zap.S().Warnw("session-level reject from peer", "peer", s.peerCompID, "text", text)
	default:
		if s.state != StateLoggedIn && s.state != StatePendingLogout {
			s.rejectLocked(msg, "application message before logon")
			return nil
		}
		if s.onApp != nil {
			handler := s.onApp
			s.mu.Unlock()
			handler(s, msg)
			s.mu.Lock()
		}
	}
	return nil
}

func (s *Session) validateRequiredFields(msg *Message) error {
	required := []Tag{
		tag.BeginString, tag.BodyLength, tag.MsgType,
		tag.SenderCompID, tag.TargetCompID, tag.MsgSeqNum,
		tag.SendingTime, tag.CheckSum,
	}
	for _, t := range required {
		if !msg.Has(t) {
			return fmt.Errorf("%w: tag %d", ErrMissingField, int(t))
		}
	}
	return nil
}

func (s *Session) validateCompIDs(msg *Message) error {
	sender, _ := msg.GetString(tag.SenderCompID)
	target, _ := msg.GetString(tag.TargetCompID)

	if target != s.cfg.LocalCompID {
		return fmt.Errorf("%w: TargetCompID %q, want %q", ErrCompIDMismatch, target, s.cfg.LocalCompID)
	}
	if s.peerCompID != "" && sender != s.peerCompID {
		return fmt.Errorf("%w: SenderCompID %q, want %q", ErrCompIDMismatch, sender, s.peerCompID)
	}
	return nil
}

// checkSequence applies the inbound discipline. Gap policy: request the
// missing range and still process the current payload; the peer's resend
// (or gap fill) will be treated as duplicates once it arrives. The strict
// buffer-and-wait alternative was deliberately not taken.
func (s *Session) checkSequence(msg *Message) (bool, error) {
	seq, ok := msg.GetInt(tag.MsgSeqNum)
	if !ok {
		return false, fmt.Errorf("%w: unreadable MsgSeqNum", ErrMalformedMessage)
	}

	switch {
	case seq == s.expectedSeq:
		s.expectedSeq++
		return true, nil
	case seq < s.expectedSeq:
		if possDup, _ := msg.GetString(tag.PossDupFlag); possDup == "Y" {
			return false, nil
		}
		return false, fmt.Errorf("%w: got %d, expected %d", ErrDuplicateSequence, seq, s.expectedSeq)
	default:
		s.sendResendRequestLocked(s.expectedSeq, seq-1)
		s.expectedSeq = seq + 1
		return true, nil
	}
}

func (s *Session) handleLogon(msg *Message) {
	if hb, ok := msg.GetInt(tag.HeartBtInt); ok && hb > 0 {
		s.heartbeat = time.Duration(hb) * time.Second
	}
	sender, _ := msg.GetString(tag.SenderCompID)
	if s.peerCompID == "" {
		s.peerCompID = sender
	}

	switch s.state {
	case StateDisconnected:
		// acceptor: confirm with our own Logon echoing the negotiation
		reply := NewMessage().
			SetString(tag.MsgType, string(enum.MsgType_LOGON)).
			SetString(tag.EncryptMethod, string(enum.EncryptMethod_NONE_OTHER)).
			SetInt(tag.HeartBtInt, int(s.heartbeat/time.Second))
		if err := s.sendLocked(reply); err != nil {
			s.errorLocked(fmt.Sprintf("logon reply failed: %v", err))
			return
		}
		s.state = StateLoggedIn
		zap.S().Infow("session logged in", "local", s.cfg.LocalCompID, "peer", s.peerCompID)
	case StatePendingLogon:
		s.state = StateLoggedIn
		zap.S().Infow("session logged in", "local", s.cfg.LocalCompID, "peer", s.peerCompID)
	default:
		s.rejectLocked(msg, "logon in invalid state")
	}
}

func (s *Session) handleLogout(msg *Message) {
	if s.state == StateLoggedIn {
		reply := NewMessage().SetString(tag.MsgType, string(enum.MsgType_LOGOUT))
		_ = s.sendLocked(reply)
	}
	s.state = StateLoggedOut
	_ = s.transport.Close()
}

func (s *Session) handleTestRequest(msg *Message) {
	reply := NewMessage().SetString(tag.MsgType, string(enum.MsgType_HEARTBEAT))
	if id, ok := msg.GetString(tag.TestReqID); ok {
		reply.SetString(tag.TestReqID, id)
	}
	_ = s.sendLocked(reply)
}

// handleResendRequest answers with a SequenceReset gap fill over the whole
// requested range. This venue keeps no outbound store, so replaying real
// messages is not an option; the gap fill keeps the peer's bookkeeping
// consistent at the cost of the lost payloads.
func (s *Session) handleResendRequest(msg *Message) {
	begin, _ := msg.GetInt(tag.BeginSeqNo)
	end, _ := msg.GetInt(tag.EndSeqNo)
	zap.S().Infow("resend requested, answering with gap fill",
		"peer", s.peerCompID, "begin", begin, "end", end)

	reply := NewMessage().
		SetString(tag.MsgType, string(enum.MsgType_SEQUENCE_RESET)).
		SetString(tag.GapFillFlag, "Y").
		SetString(tag.PossDupFlag, "Y").
		SetInt(tag.NewSeqNo, s.outgoingSeq)

	// The gap fill is sent in place of the first missing message, so it
	// carries that sequence number; our own counter is untouched.
	saved := s.outgoingSeq
	s.outgoingSeq = begin
	err := s.sendLocked(reply)
	s.outgoingSeq = saved
	if err != nil {
		s.errorLocked(fmt.Sprintf("gap fill failed: %v", err))
	}
}

func (s *Session) handleSequenceReset(msg *Message) {
	newSeq, ok := msg.GetInt(tag.NewSeqNo)
	if !ok || newSeq < s.expectedSeq {
		s.rejectLocked(msg, "invalid NewSeqNo")
		return
	}
	s.expectedSeq = newSeq
}

func (s *Session) sendResendRequestLocked(begin, end int) {
	msg := NewMessage().
		SetString(tag.MsgType, string(enum.MsgType_RESEND_REQUEST)).
		SetInt(tag.BeginSeqNo, begin).
		SetInt(tag.EndSeqNo, end)
	_ = s.sendLocked(msg)
}

// Reject emits a session-level Reject (35=3) for a message whose payload the
// application layer cannot use.
func (s *Session) Reject(msg *Message, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectLocked(msg, reason)
}

// rejectLocked emits a session-level Reject (35=3) referencing the offending
// message.
func (s *Session) rejectLocked(msg *Message, reason string) {
	reply := NewMessage().
		SetString(tag.MsgType, string(enum.MsgType_REJECT)).
		SetString(tag.Text, reason)
	if seq, ok := msg.GetInt(tag.MsgSeqNum); ok {
		reply.SetInt(tag.RefSeqNum, seq)
	}
	_ = s.sendLocked(reply)
}

func (s *Session) errorLocked(reason string) {
	zap.S().Errorw("session error", "local", s.cfg.LocalCompID, "peer", s.peerCompID, "reason", reason)
	if s.state == StateLoggedIn {
		logout := NewMessage().
			SetString(tag.MsgType, string(enum.MsgType_LOGOUT)).
			SetString(tag.Text, reason)
		_ = s.sendLocked(logout)
	}
	s.state = StateError
	_ = s.transport.Close()
}

// Tick drives the liveness rules and should be called at least once per
// second while the session is up.
func (s *Session) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateLoggedIn && s.state != StatePendingLogout {
		return
	}
	now := s.now()

	if now.Sub(s.lastSent) >= s.heartbeat {
		hb := NewMessage().SetString(tag.MsgType, string(enum.MsgType_HEARTBEAT))
		_ = s.sendLocked(hb)
	}

	silence := now.Sub(s.lastReceived)
	testAfter := time.Duration(float64(s.heartbeat) * 1.2)
	switch {
	case s.pendingTestReq && silence >= testAfter+s.heartbeat:
		s.errorLocked("peer unresponsive: " + strconv.Itoa(int(silence/time.Second)) + "s of silence")
	case !s.pendingTestReq && silence >= testAfter:
		req := NewMessage().
			SetString(tag.MsgType, string(enum.MsgType_TEST_REQUEST)).
			SetString(tag.TestReqID, uuid.NewString())
		_ = s.sendLocked(req)
		s.pendingTestReq = true
	}
}

// ForceState is a test hook.
func (s *Session) ForceState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// SetClock is a test hook.
func (s *Session) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
