// Package registry implements the gateway's session registry (spec
// component C3) and the pending-connection table used by the two-step
// secure auth handshake (component C4).
//
// Both are generalized from the teacher's package-level sessionRegistry
// (internal/terminal/session.go): a mutex-guarded map plus a ticker-driven
// sweep, but passed around as explicit dependencies instead of a singleton,
// per spec §9's design note on process-wide maps.
package registry

import (
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// State is a session's position in the C3 lifecycle state machine.
type State int

const (
	StateCreated State = iota
	StateConnected
	StateReady
	StateDetached
	StateTearing
	StateGone
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	case StateDetached:
		return "detached"
	case StateTearing:
		return "tearing"
	case StateGone:
		return "gone"
	default:
		return "unknown"
	}
}

// ShellStream is the interactive SSH stream a session owns once Ready.
type ShellStream interface {
	io.ReadWriteCloser
	Resize(cols, rows uint32) error
}

// ClientChannel is the minimal surface the registry needs from a browser
// transport connection: something it can close on teardown. The gateway
// package's richer channel type satisfies this trivially.
type ClientChannel interface {
	Close() error
}

// ConnectionInfo is immutable once a session completes its first connect.
type ConnectionInfo struct {
	Host         string
	Port         int
	Username     string
	ConnectionID string
}

// Backpressure tracks C6's pause/resume bookkeeping for one session.
type Backpressure struct {
	Paused     atomic.Bool
	TotalBytes atomic.Int64
	PauseCount atomic.Int64
	ResumeCount atomic.Int64
}

// Latency holds the most recent composite latency measurement (C7).
type Latency struct {
	ClientLegMs int
	HostLegMs   int
	Method      string
	MeasuredAt  time.Time
}

// Session is the C3 session record. The unexported fields that are mutated
// after creation (clientChannel, state, detachedAt, sshConn, shellStream) are
// only touched through the Session's and Registry's methods, which serialize
// access with mu.
type Session struct {
	ID string

	mu            sync.Mutex
	sshConn       io.Closer
	shellStream   ShellStream
	clientChannel ClientChannel
	state         State
	detachedAt    time.Time

	ConnectionInfo ConnectionInfo
	ClientIP       string
	CreatedAt      time.Time
	LastActivity   atomic.Int64 // unix nanos

	Backpressure Backpressure
	LastLatency  atomic.Pointer[Latency]
	ProtocolVersion string
}

// Touch records inbound activity, resetting the idle clock used by callers
// that want to apply their own idle policy on top of the registry's TTLs.
func (s *Session) Touch() {
	s.LastActivity.Store(time.Now().UnixNano())
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// ClientChannelRef returns the currently bound channel, or nil while detached.
func (s *Session) ClientChannelRef() ClientChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientChannel
}

// ShellStreamRef returns the owned interactive stream, or nil before Ready.
func (s *Session) ShellStreamRef() ShellStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shellStream
}

// SetSSHConn records the owned SSH connection after a successful connect.
func (s *Session) SetSSHConn(conn io.Closer) {
	s.mu.Lock()
	s.sshConn = conn
	if s.state == StateCreated {
		s.state = StateConnected
	}
	s.mu.Unlock()
}

// SetShellStream records the owned interactive stream and transitions to Ready.
func (s *Session) SetShellStream(stream ShellStream) {
	s.mu.Lock()
	s.shellStream = stream
	s.state = StateReady
	s.mu.Unlock()
}

var (
	// ErrUnknownSession is returned by registry operations on an id with no record.
	ErrUnknownSession = errors.New("registry: unknown session")
)

// Registry holds the full set of live/detached sessions. Safe for concurrent use.
type Registry struct {
	detachTTL time.Duration

	mu       sync.Mutex
	sessions map[string]*Session

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Registry. detachTTL is how long a Detached session survives
// before Sweep destroys it; see DESIGN.md for why this defaults to 10
// minutes instead of the source's notional 24h.
func New(detachTTL time.Duration) *Registry {
	return &Registry{
		detachTTL: detachTTL,
		sessions:  make(map[string]*Session),
		stopCh:    make(chan struct{}),
	}
}

// Open returns the existing record for id if one is live, or creates a new
// Created-state record. The caller distinguishes "reattach" from "new" by
// inspecting the returned existed bool.
func (r *Registry) Open(id string) (sess *Session, existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[id]; ok {
		return existing, true
	}

	sess = &Session{
		ID:        id,
		CreatedAt: time.Now(),
		state:     StateCreated,
	}
	sess.Touch()
	r.sessions[id] = sess
	return sess, false
}

// Lookup returns the record for id without creating one.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Rebind attaches ch to the session, clearing any pending detach timer and
// moving a Detached session back to Ready (or Connected if it never reached
// Ready). This is the reconnection contract of spec §4.3.
func (r *Registry) Rebind(id string, ch ClientChannel) (*Session, error) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSession
	}

	sess.mu.Lock()
	sess.clientChannel = ch
	sess.detachedAt = time.Time{}
	if sess.shellStream != nil {
		sess.state = StateReady
	} else if sess.sshConn != nil {
		sess.state = StateConnected
	}
	sess.mu.Unlock()
	sess.Touch()
	return sess, nil
}

// Detach clears the client channel reference and arms the detach TTL,
// without destroying SSH resources, enabling reconnection.
func (r *Registry) Detach(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	sess.mu.Lock()
	sess.clientChannel = nil
	sess.state = StateDetached
	sess.detachedAt = time.Now()
	sess.mu.Unlock()
	return nil
}

// Destroy idempotently tears a session down: removes the record, then
// closes the shell stream, the SSH connection and the client channel. It
// does not drain pending output before closing. It is safe to call more
// than once or from multiple goroutines concurrently.
func (r *Registry) Destroy(id string, reason string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil // already gone: idempotent
	}

	sess.mu.Lock()
	sess.state = StateTearing
	stream := sess.shellStream
	conn := sess.sshConn
	ch := sess.clientChannel
	sess.shellStream = nil
	sess.sshConn = nil
	sess.clientChannel = nil
	sess.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if ch != nil {
		_ = ch.Close()
	}

	sess.setState(StateGone)
	log.Printf("[registry] session %s destroyed: %s", id, reason)
	return nil
}

// Count reports the number of live (non-Gone) sessions, for diagnostics.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep destroys any Detached session whose TTL has elapsed. It is meant to
// be invoked periodically by StartSweeper.
func (r *Registry) Sweep() {
	now := time.Now()
	var expired []string

	r.mu.Lock()
	for id, sess := range r.sessions {
		sess.mu.Lock()
		if sess.state == StateDetached && !sess.detachedAt.IsZero() && now.Sub(sess.detachedAt) >= r.detachTTL {
			expired = append(expired, id)
		}
		sess.mu.Unlock()
	}
	r.mu.Unlock()

	for _, id := range expired {
		_ = r.Destroy(id, "detach ttl expired")
	}
}

// StartSweeper runs Sweep on interval until the Registry is stopped.
func (r *Registry) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Stop halts the sweeper goroutine. It does not destroy any sessions.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}
