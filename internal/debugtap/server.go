// Package debugtap implements the local debug tap of SPEC_FULL.md §4.8:
// an optional, local-only TCP server that broadcasts a live copy of
// every Formatted Line to any number of connected diagnostic tools.
// Adapted from the teacher repo's internal/server (accept loop, batched
// writer, functional-options construction) with the CAN-frame handshake
// and codec removed — there is no wire protocol here, only a stream of
// newline-terminated text, matching spec.md's non-goals (no ack
// protocol, no envelope).
package debugtap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stellamotors/telemetry-agent/internal/hub"
	"github.com/stellamotors/telemetry-agent/internal/logging"
	"github.com/stellamotors/telemetry-agent/internal/metrics"
)

var (
	ErrListen = errors.New("debugtap: listen")
	ErrAccept = errors.New("debugtap: accept")
)

const (
	defaultFlushInterval = 20 * time.Millisecond
	defaultBatchSize     = 64
	defaultClientBuf     = 256
)

// Server owns the debug-tap TCP listener and client lifecycle.
type Server struct {
	mu   sync.Mutex
	addr string
	Hub  *hub.Hub

	flushInterval time.Duration
	batchSize     int
	maxClients    int
	clientBuf     int

	readyOnce sync.Once
	readyCh   chan struct{}

	listener  net.Listener
	clientsMu sync.RWMutex
	clients   map[*hub.Client]net.Conn
	wg        sync.WaitGroup
	logger    *slog.Logger

	totalAccepted     atomic.Uint64
	totalConnected    atomic.Uint64
	totalDisconnected atomic.Uint64
}

type Option func(*Server)

func New(opts ...Option) *Server {
	s := &Server{
		flushInterval: defaultFlushInterval,
		batchSize:     defaultBatchSize,
		clientBuf:     defaultClientBuf,
		readyCh:       make(chan struct{}),
		clients:       make(map[*hub.Client]net.Conn),
		logger:        logging.L().With("component", "debug_tap"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	if s.Hub == nil {
		s.Hub = hub.New()
	}
	return s
}

func WithListenAddr(a string) Option { return func(s *Server) { s.addr = a } }
func WithHub(h *hub.Hub) Option      { return func(s *Server) { s.Hub = h } }
func WithMaxClients(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}
func WithClientBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.clientBuf = n
		}
	}
}
func WithFlushInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.Lock(); defer s.mu.Unlock(); return s.addr }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Serve accepts debug-tap clients until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	s.mu.Unlock()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListen, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("listen", "addr", s.Addr())

	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if _, ok := err.(net.Error); ok {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("%w: %v", ErrAccept, err)
		}
		s.totalAccepted.Add(1)
		s.acceptConn(ctx, conn)
	}
}

func (s *Server) acceptConn(ctx context.Context, conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
	}
	if s.maxClients > 0 && s.Hub.Count() >= s.maxClients {
		s.logger.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return
	}
	cl := &hub.Client{Out: make(chan string, s.clientBuf), Closed: make(chan struct{})}
	s.Hub.Add(cl)
	s.clientsMu.Lock()
	s.clients[cl] = conn
	s.clientsMu.Unlock()
	s.totalConnected.Add(1)
	s.logger.Info("client_connected", "remote", conn.RemoteAddr().String())
	s.startWriter(ctx.Done(), conn, cl)
}

func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			s.Hub.Remove(cl)
			s.clientsMu.Lock()
			delete(s.clients, cl)
			s.clientsMu.Unlock()
			s.totalDisconnected.Add(1)
		}()
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		var batch []byte
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			_, err := conn.Write(batch)
			batch = batch[:0]
			return err
		}
		for {
			select {
			case line := <-cl.Out:
				batch = append(batch, line...)
				if len(batch) >= s.batchSize {
					if err := flush(); err != nil {
						return
					}
				}
			case <-t.C:
				if err := flush(); err != nil {
					return
				}
			case <-cl.Closed:
				_ = flush()
				return
			case <-ctxDone:
				_ = flush()
				return
			}
		}
	}()
}

// Shutdown closes the listener and all connected clients, then waits
// for writer goroutines to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.clientsMu.Lock()
	for cl, conn := range s.clients {
		_ = conn.Close()
		s.Hub.Remove(cl)
		delete(s.clients, cl)
	}
	s.clientsMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"connected", s.totalConnected.Load(),
			"disconnected", s.totalDisconnected.Load())
		return nil
	}
}

// Broadcast publishes one Formatted Line to every connected debug-tap
// client. Safe to call whether or not Serve has ever been invoked
// (e.g. the tap is disabled): Hub.Broadcast on zero clients is a no-op.
func (s *Server) Broadcast(line string) {
	metrics.SetDebugTapClients(s.Hub.Count())
	s.Hub.Broadcast(line)
}
