package core

import (
	"sync"
	"time"

	"github.com/dkeye/callstream/internal/domain"
)

type State int

const (
	AwaitingStart State = iota
	Streaming
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingStart:
		return "awaiting_start"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	default:
		return "invalid"
	}
}

// Session is the state of one call's media stream.
// It is exclusively owned by its registry entry and never outlives conn.
type Session struct {
	mu          sync.RWMutex
	callID      domain.CallID
	streamID    domain.StreamID
	accountID   domain.AccountID
	state       State
	seq         uint64
	connectedAt time.Time
	conn        MediaConnection

	// serializes outbound buffers
	sendMu sync.Mutex
}

func NewSession(callID domain.CallID, conn MediaConnection) *Session {
	return &Session{
		callID:      callID,
		state:       AwaitingStart,
		connectedAt: time.Now(),
		conn:        conn,
	}
}

func (s *Session) CallID() domain.CallID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callID
}

func (s *Session) StreamID() domain.StreamID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamID
}

func (s *Session) AccountID() domain.AccountID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountID
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Sequence is the number the next outbound frame will carry.
func (s *Session) Sequence() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

func (s *Session) Conn() MediaConnection { return s.conn }

// Rekey replaces the call identifier. Only the registry calls it, while
// holding its own lock, so the key and the session never disagree.
func (s *Session) Rekey(id domain.CallID) {
	s.mu.Lock()
	s.callID = id
	s.mu.Unlock()
}

// ApplyStart moves AwaitingStart to Streaming. A repeated start while
// Streaming re-applies the fields.
func (s *Session) ApplyStart(streamID domain.StreamID, accountID domain.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return &InvalidTransitionError{State: s.state, Event: EventStart}
	}
	s.streamID = streamID
	s.accountID = accountID
	s.state = Streaming
	return nil
}

// AcceptMedia validates an inbound media frame against the current state and
// returns its decoded audio.
func (s *Session) AcceptMedia(f *Frame) ([]byte, error) {
	s.mu.RLock()
	state, streamID := s.state, s.streamID
	s.mu.RUnlock()

	if state != Streaming || streamID == "" {
		return nil, &InvalidTransitionError{State: state, Event: EventMedia}
	}
	return f.Audio()
}

// Close moves the session to Closed. Only the first call returns true.
func (s *Session) Close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return false
	}
	s.state = Closed
	return true
}

// SessionInfo is a read-only view for APIs (no transport fields).
type SessionInfo struct {
	CallID      domain.CallID    `json:"call_id"`
	StreamID    domain.StreamID  `json:"stream_id,omitempty"`
	AccountID   domain.AccountID `json:"account_id,omitempty"`
	State       string           `json:"state"`
	Sequence    uint64           `json:"sequence_number"`
	ConnectedAt time.Time        `json:"connected_at"`
}

func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		CallID:      s.callID,
		StreamID:    s.streamID,
		AccountID:   s.accountID,
		State:       s.state.String(),
		Sequence:    s.seq,
		ConnectedAt: s.connectedAt,
	}
}

// Sender emits outbound frames for one buffer. It holds the session's send
// lock until Done, so frames of two buffers never interleave.
type Sender struct {
	s    *Session
	done bool
}

func (s *Session) BeginSend() *Sender {
	s.sendMu.Lock()
	return &Sender{s: s}
}

// Emit sends one chunk as a media frame carrying the next sequence number.
// The sequence advances only when the connection accepted the frame.
func (snd *Sender) Emit(chunk []byte) error {
	s := snd.s
	s.mu.RLock()
	state, streamID, seq := s.state, s.streamID, s.seq
	s.mu.RUnlock()

	if state == Closed || s.conn == nil || !s.conn.IsOpen() {
		return ErrConnectionClosed
	}
	if streamID == "" {
		return ErrStreamNotStarted
	}

	raw, err := Encode(NewMediaFrame(streamID, seq, chunk))
	if err != nil {
		return err
	}
	if err := s.conn.Send(raw); err != nil {
		return err
	}

	s.mu.Lock()
	s.seq++
	s.mu.Unlock()
	return nil
}

func (snd *Sender) Done() {
	if snd.done {
		return
	}
	snd.done = true
	snd.s.sendMu.Unlock()
}
