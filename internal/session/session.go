// Package session implements the per-connection MSNP state machine:
// version negotiation, the auth challenge/response handshake, contact
// sync, presence updates, and message stub handling. Session state is a
// mutex-guarded struct with accessor methods, driven by a dedicated
// outbound queue and a command-dispatch loop.
package session

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/op/go-logging"

	"github.com/frostbite2000/msnp-server/internal/registry"
	"github.com/frostbite2000/msnp-server/internal/router"
	"github.com/frostbite2000/msnp-server/internal/store"
	"github.com/frostbite2000/msnp-server/internal/version"
	"github.com/frostbite2000/msnp-server/internal/wire"
)

type State int

const (
	StateGreeted State = iota
	StateVersioned
	StateClientIdentified
	StateChallenged
	StateAuthenticated
	StateClosing
)

// Config carries the negotiable/operational parameters of a session.
type Config struct {
	SupportedVersions []string // ordered, server preference
	PingInterval      time.Duration
	SessionTimeout    time.Duration // idle timeout, floor 90s
	HandshakeTimeout  time.Duration
	MaxMessageLength  int
	Build             version.Build
	DrainTimeout      time.Duration // per-session outbound queue drain on shutdown
}

const outboundQueueCapacity = 256
const enqueueTimeout = 5 * time.Second
const maxAuthAttempts = 3

var epochCounter uint64
var epochMu sync.Mutex

func nextEpoch() uint64 {
	epochMu.Lock()
	defer epochMu.Unlock()
	epochCounter++
	return epochCounter
}

// Session is one accepted TCP connection's worth of protocol state. All
// fields below mu are guarded by it; Deliver/Terminate are safe to call
// from any goroutine (the Router, the Registry, this Session's own
// handler loop).
type Session struct {
	mu sync.Mutex

	conn  net.Conn
	epoch uint64

	state        State
	version      string
	identity     string
	displayName  string
	presence     string
	clientID     int
	msnObj       string
	txCount      uint32
	lastActivity time.Time
	nonce        string
	authAttempts int
	contactRev   uint32

	outbound   chan string
	done       chan struct{} // closed to request shutdown
	writerDone chan struct{} // closed once the writer has drained and closed conn
	markOnce   sync.Once

	cfg      Config
	registry *registry.Registry
	router   *router.Router
	store    store.Store
	log      *logging.Logger
}

func New(conn net.Conn, cfg Config, reg *registry.Registry, rtr *router.Router, st store.Store, log *logging.Logger) *Session {
	return &Session{
		conn:       conn,
		epoch:      nextEpoch(),
		state:      StateGreeted,
		presence:   "FLN",
		outbound:   make(chan string, outboundQueueCapacity),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		cfg:        cfg,
		registry:   reg,
		router:     rtr,
		store:      st,
		log:        log,
	}
}

// --- registry.Peer ---

func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) DisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayName
}

func (s *Session) Presence() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence
}

// Deliver enqueues line for this Session's writer goroutine. A full queue
// for longer than enqueueTimeout marks the Session stalled: its writer is
// closed and the caller should treat the Session as gone.
func (s *Session) Deliver(line string) error {
	select {
	case s.outbound <- line:
		return nil
	case <-s.done:
		return fmt.Errorf("session closed")
	case <-time.After(enqueueTimeout):
		s.log.Warning("session", s.Identity(), "stalled, evicting")
		s.markDone()
		return fmt.Errorf("enqueue timed out, session stalled")
	}
}

// markDone requests shutdown without waiting for the writer to finish
// draining. Safe to call more than once, and from the writer goroutine
// itself.
func (s *Session) markDone() {
	s.markOnce.Do(func() { close(s.done) })
}

// Terminate requests shutdown and blocks until the writer goroutine has
// drained whatever was already queued (so e.g. a displacing Registry's
// "OUT OTH" is guaranteed written) and closed the connection. Safe to
// call more than once, from any goroutine.
func (s *Session) Terminate(reason string) {
	s.log.Debug("terminating session", s.Identity(), ":", reason)
	s.markDone()
	<-s.writerDone
}

// --- lifecycle ---

// Serve runs the writer goroutine and the blocking read/dispatch loop
// until the connection closes, then deregisters from the Registry. It
// always returns (never panics out) — a recovered panic is logged and
// treated as a local connection close.
func (s *Session) Serve() {
	go s.writeLoop()

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("session panic recovered:", r)
				s.log.Error(string(debug.Stack()))
			}
		}()
		s.readLoop()
	}()

	s.Terminate("connection closed")

	s.mu.Lock()
	identity := s.identity
	s.mu.Unlock()
	if identity != "" {
		s.registry.RemoveIfCurrent(identity, s)
	}
}

// writeLoop is the single dedicated writer task draining the outbound
// queue to the socket, so the socket is written by exactly one goroutine
// at a time. On shutdown it drains whatever is already queued — e.g. a
// displacing Registry's "OUT OTH" — before closing conn, so Terminate's
// caller can rely on queued lines having actually been
// written once it returns.
func (s *Session) writeLoop() {
	defer close(s.writerDone)
	defer s.conn.Close()
	for {
		select {
		case line, ok := <-s.outbound:
			if !ok {
				return
			}
			if err := wire.WriteLine(s.conn, line); err != nil {
				s.log.Debug("write failed, closing:", err)
				s.markDone()
				return
			}
		case <-s.done:
			for {
				select {
				case line := <-s.outbound:
					wire.WriteLine(s.conn, line)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) readLoop() {
	framer := wire.NewFramer(s.conn)
	handshakeDeadline := time.Now().Add(s.cfg.HandshakeTimeout)
	s.touch()

	for {
		s.conn.SetReadDeadline(s.idleDeadline())

		cmd, err := framer.ReadCommand()
		if err != nil {
			return
		}
		s.touch()

		s.mu.Lock()
		state := s.state
		s.mu.Unlock()
		if state != StateAuthenticated && time.Now().After(handshakeDeadline) {
			s.Terminate("handshake timeout")
			return
		}

		if s.dispatch(cmd) {
			return
		}
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleDeadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity.Add(s.cfg.SessionTimeout)
}

// ctx is the context passed to Store operations from this Session's
// reader goroutine. The core has no per-request deadline of its own; a
// Store implementation that needs one applies it internally.
func (s *Session) ctx() context.Context {
	return context.Background()
}

// newNonce generates the 32-hex-character challenge nonce from a v4 UUID's
// 16 raw bytes.
func newNonce() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%032x", id.Bytes()), nil
}
