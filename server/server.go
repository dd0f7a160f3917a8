// Package server exposes a kivi store over a TCP request/response
// protocol, with an optional admin HTTP endpoint for stats and
// Prometheus metrics.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kivi/kivi"
	"github.com/kivi/kivi/metrics"
	"github.com/kivi/kivi/protocol"
)

// Server accepts client connections and dispatches their requests to
// the storage engine. Each connection is served by its own goroutine
// and processes one request to completion before reading the next;
// independent connections run concurrently.
type Server struct {
	db        *kivi.DB
	addr      string
	adminAddr string

	ln      net.Listener
	adminLn net.Listener
	admin   *http.Server

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates a server for db. adminAddr may be empty to disable the
// admin endpoint.
func New(db *kivi.DB, addr, adminAddr string) *Server {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	metrics.RegisterStoreStats(registry, db)

	return &Server{
		db:        db,
		addr:      addr,
		adminAddr: adminAddr,
		registry:  registry,
		metrics:   m,
		conns:     make(map[net.Conn]struct{}),
	}
}

// Listen binds the client and admin listeners.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln

	if s.adminAddr != "" {
		adminLn, err := net.Listen("tcp", s.adminAddr)
		if err != nil {
			_ = ln.Close()
			return err
		}
		s.adminLn = adminLn

		router := mux.NewRouter()
		router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
		router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
		s.admin = &http.Server{Handler: router}
	}
	return nil
}

// Addr returns the bound client listener address.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// AdminAddr returns the bound admin listener address, or nil.
func (s *Server) AdminAddr() net.Addr {
	if s.adminLn == nil {
		return nil
	}
	return s.adminLn.Addr()
}

// Serve runs the accept loop until Shutdown. Listen must have been
// called.
func (s *Server) Serve() error {
	if s.admin != nil {
		go func() {
			if err := s.admin.Serve(s.adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("kivi server: admin endpoint failed: %v", err)
			}
		}()
		log.Printf("kivi server: admin endpoint on %s", s.adminLn.Addr())
	}

	log.Printf("kivi server: listening on %s", s.ln.Addr())
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Shutdown stops accepting connections and waits for in-flight
// requests; connections still open when ctx expires are closed
// forcibly.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.ln != nil {
		_ = s.ln.Close()
	}
	if s.admin != nil {
		_ = s.admin.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	s.metrics.ConnOpened()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.metrics.ConnClosed()
	}()

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)
	for {
		req, err := protocol.ReadRequest(br)
		if err != nil {
			// a decode failure leaves the frame boundary unknown, so
			// the connection cannot be salvaged
			if err != io.EOF && !s.isClosed() {
				log.Printf("kivi server: dropping connection %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		resp := s.dispatch(req)
		if err = protocol.WriteResponse(bw, resp); err != nil {
			return
		}
		if err = bw.Flush(); err != nil {
			return
		}
	}
}

// dispatch maps one decoded request to an engine call. Engine errors
// become error responses, never dropped connections.
func (s *Server) dispatch(req *protocol.Request) *protocol.Response {
	start := time.Now()

	switch req.Op {
	case protocol.OpGet:
		value, err := s.db.Get(req.Key)
		switch {
		case err == nil:
			s.metrics.ObserveRequest("get", metrics.OutcomeOK, start)
			return &protocol.Response{Status: protocol.StatusValue, Value: value}
		case errors.Is(err, kivi.ErrKeyNotFound):
			s.metrics.ObserveRequest("get", metrics.OutcomeNotFound, start)
			return &protocol.Response{Status: protocol.StatusNil}
		default:
			s.metrics.ObserveRequest("get", metrics.OutcomeError, start)
			return &protocol.Response{Status: protocol.StatusError, Err: err.Error()}
		}

	case protocol.OpSet:
		if err := s.db.Put(req.Key, req.Value); err != nil {
			s.metrics.ObserveRequest("set", metrics.OutcomeError, start)
			return &protocol.Response{Status: protocol.StatusError, Err: err.Error()}
		}
		s.metrics.ObserveRequest("set", metrics.OutcomeOK, start)
		return &protocol.Response{Status: protocol.StatusNil}

	case protocol.OpRemove:
		err := s.db.Delete(req.Key)
		switch {
		case err == nil:
			s.metrics.ObserveRequest("remove", metrics.OutcomeOK, start)
			return &protocol.Response{Status: protocol.StatusNil}
		case errors.Is(err, kivi.ErrKeyNotFound):
			s.metrics.ObserveRequest("remove", metrics.OutcomeNotFound, start)
			return &protocol.Response{Status: protocol.StatusNotFound}
		default:
			s.metrics.ObserveRequest("remove", metrics.OutcomeError, start)
			return &protocol.Response{Status: protocol.StatusError, Err: err.Error()}
		}

	default:
		return &protocol.Response{Status: protocol.StatusError, Err: protocol.ErrUnknownOp.Error()}
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.db.Stats()); err != nil {
		log.Printf("kivi server: failed to encode stats: %v", err)
	}
}
