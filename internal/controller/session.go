package controller

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a device session
type SessionState int32

const (
	StateHandshaking SessionState = iota
	StateAuthenticated
	StateRelaying
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateAuthenticated:
		return "authenticated"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RelayPhase is where a relay worker is within one command exchange
type RelayPhase int32

const (
	PhaseIdle RelayPhase = iota
	PhaseForwarding
	PhaseAwaitingResponse
)

func (p RelayPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseForwarding:
		return "forwarding"
	case PhaseAwaitingResponse:
		return "awaiting_response"
	default:
		return "unknown"
	}
}

// Session is the live connection state of one device on one listener.
// Only the task handed the session by the gate touches its connection.
type Session struct {
	ID         uuid.UUID
	Identity   string
	RemoteAddr string
	CreatedAt  time.Time

	conn     net.Conn
	state    atomic.Int32
	phase    atomic.Int32
	commands atomic.Uint64
	timeouts atomic.Uint64
	lastSeen atomic.Int64
}

func newSession(conn net.Conn) *Session {
	s := &Session{
		ID:         uuid.New(),
		RemoteAddr: conn.RemoteAddr().String(),
		CreatedAt:  time.Now(),
		conn:       conn,
	}
	s.touch()
	return s
}

func (s *Session) Conn() net.Conn {
	return s.conn
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(state SessionState) {
	s.state.Store(int32(state))
}

func (s *Session) Phase() RelayPhase {
	return RelayPhase(s.phase.Load())
}

func (s *Session) setPhase(phase RelayPhase) {
	s.phase.Store(int32(phase))
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// SessionInfo is a point-in-time snapshot of a session
type SessionInfo struct {
	ID         string    `json:"id"`
	Identity   string    `json:"sensor_id"`
	RemoteAddr string    `json:"remote_addr"`
	State      string    `json:"state"`
	Phase      string    `json:"phase"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeen   time.Time `json:"last_seen"`
	Commands   uint64    `json:"commands"`
	Timeouts   uint64    `json:"timeouts"`
}

func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:         s.ID.String(),
		Identity:   s.Identity,
		RemoteAddr: s.RemoteAddr,
		State:      s.State().String(),
		Phase:      s.Phase().String(),
		CreatedAt:  s.CreatedAt,
		LastSeen:   time.Unix(0, s.lastSeen.Load()),
		Commands:   s.commands.Load(),
		Timeouts:   s.timeouts.Load(),
	}
}
