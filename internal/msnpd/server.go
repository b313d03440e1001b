// Package msnpd assembles the Listener, Registry, Router, and Store into
// a runnable server: an Accept loop tracked by a sync.WaitGroup, with a
// time.After-bounded graceful drain on shutdown.
package msnpd

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/op/go-logging"

	"github.com/frostbite2000/msnp-server/internal/registry"
	"github.com/frostbite2000/msnp-server/internal/router"
	"github.com/frostbite2000/msnp-server/internal/session"
	"github.com/frostbite2000/msnp-server/internal/store"
)

type Server struct {
	listenAddr     string
	maxConnections int
	sessionConfig  session.Config

	registry *registry.Registry
	router   *router.Router
	store    store.Store
	log      *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	active   map[*session.Session]struct{}
	wg       sync.WaitGroup
	sem      chan struct{}
}

func New(listenAddr string, maxConnections int, sessionConfig session.Config, reg *registry.Registry, rtr *router.Router, st store.Store, log *logging.Logger) *Server {
	return &Server{
		listenAddr:     listenAddr,
		maxConnections: maxConnections,
		sessionConfig:  sessionConfig,
		registry:       reg,
		router:         rtr,
		store:          st,
		log:            log,
		active:         make(map[*session.Session]struct{}),
		sem:            make(chan struct{}, maxConnections),
	}
}

// ListenAndServe binds the listen address and runs the accept loop until
// Shutdown is called or an unrecoverable accept error occurs.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.listenAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Notice("msnpd listening on", s.listenAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.listener == nil
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.log.Error("accept error:", err)
			continue
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warning("max connections reached, rejecting", conn.RemoteAddr())
			conn.Close()
			continue
		}

		sess := session.New(conn, s.sessionConfig, s.registry, s.router, s.store, logging.MustGetLogger("session"))
		s.mu.Lock()
		s.active[sess] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			defer func() {
				s.mu.Lock()
				delete(s.active, sess)
				s.mu.Unlock()
			}()
			sess.Serve()
		}()
	}
}

// Shutdown refuses new connections, sends every active Session "OUT SSD",
// gives them their configured drain timeout, then hard-closes whatever
// remains.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	sessions := make([]*session.Session, 0, len(s.active))
	for sess := range s.active {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Deliver("OUT SSD")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.sessionConfig.DrainTimeout):
		s.log.Warning("drain timeout exceeded, force-closing remaining sessions")
		for _, sess := range sessions {
			sess.Terminate("server shutdown")
		}
		<-done
	}
}
