// Package tcpclient implements the TCP Client object of spec.md §4.6: a
// single outbound TCP session with init/connect/reconnect/close and a
// `connected` flag, used twice over (live streaming, upload) exactly as
// two independent instances per spec.md §3.
//
// The mutex/connected-flag discipline of spec.md §5 is realized with an
// atomic.Bool for lock-free dirty reads (the Formatter's routing check)
// paired with a sync.Mutex serializing connection swaps and send
// attempts, following the teacher repo's net.TCPConn socket-option
// pattern in internal/server/server.go (SetNoDelay/SetKeepAlive).
package tcpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stellamotors/telemetry-agent/internal/broadcast"
	"github.com/stellamotors/telemetry-agent/internal/logging"
	"github.com/stellamotors/telemetry-agent/internal/metrics"
)

// Sentinel errors, wrapped for errors.Is classification and metrics
// labeling, mirroring the teacher repo's internal/server/errors.go.
var (
	ErrDial    = errors.New("tcp_dial")
	ErrSend    = errors.New("tcp_send")
	ErrClosed  = errors.New("tcp_not_connected")
	ErrContext = errors.New("context_cancelled")
)

// Result classifies the outcome of an upload-path send attempt.
type Result int

const (
	Sent Result = iota
	NoDataSent
	Cancelled
)

func (r Result) String() string {
	switch r {
	case Sent:
		return "sent"
	case NoDataSent:
		return "no_data_sent"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Client is one outbound TCP session. id orders Client instances for
// LockBoth's deadlock-free multi-lock.
type Client struct {
	id       uint64
	label    string // "live" or "upload", used for metrics/logging only
	addr     string
	nodelay  bool
	logger   *slog.Logger

	mu   sync.Mutex
	conn net.Conn

	connected    atomic.Bool
	disconnectCh *broadcast.Cond // broadcast when connected flips false
	connectedCh  *broadcast.Cond // broadcast when connected flips true
}

// New creates a disconnected Client. id must be distinct and stable
// across the pair of clients a caller intends to pass to LockBoth.
func New(id uint64, label, host, port string, nodelay bool) *Client {
	return &Client{
		id:           id,
		label:        label,
		addr:         net.JoinHostPort(host, port),
		nodelay:      nodelay,
		logger:       logging.L().With("component", "tcp_client", "client", label),
		disconnectCh: broadcast.New(),
		connectedCh:  broadcast.New(),
	}
}

// Connected is a lock-free dirty read of the connection state, for the
// Formatter's routing check (spec.md §4.2 step 1).
func (c *Client) Connected() bool { return c.connected.Load() }

// Connect dials the target and, on success, marks the client connected.
// Mirrors the TCP Client object's init()+open_con() pair.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		metrics.IncError(c.errLabel())
		return fmt.Errorf("%w: %s: %v", ErrDial, c.addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
		if c.nodelay {
			_ = tcp.SetNoDelay(true)
		}
	}
	c.conn = conn
	c.connected.Store(true)
	c.setConnectedMetric(true)
	c.connectedCh.Broadcast()
	c.logger.Info("connected", "addr", c.addr)
	return nil
}

// Reconnect = close_con(); init(); open_con(), per spec.md §4.6.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	metrics.IncReconnectAttempts(c.label)
	return c.connectLocked(ctx)
}

// Close tears down the socket, idempotently.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	if c.connected.Swap(false) {
		c.setConnectedMetric(false)
	}
	return err
}

// markDisconnectedLocked records an observed I/O failure. Caller holds
// c.mu, satisfying spec.md §3's invariant that connected only flips to
// false under the owning client's mutex.
func (c *Client) markDisconnectedLocked() {
	if c.connected.CompareAndSwap(true, false) {
		c.setConnectedMetric(false)
		c.disconnectCh.Broadcast()
		c.logger.Warn("disconnected")
	}
}

func (c *Client) setConnectedMetric(v bool) {
	if c.label == "live" {
		metrics.SetLiveConnected(v)
	} else {
		metrics.SetUploadConnected(v)
	}
}

func (c *Client) errLabel() string {
	if c.label == "live" {
		return metrics.ErrTCPLiveSend
	}
	return metrics.ErrTCPUpload
}

// Disconnected returns a channel that closes the next time this client
// observes an I/O failure, for the Supervisor's monitor loop.
func (c *Client) Disconnected() <-chan struct{} { return c.disconnectCh.Wait() }

// BecameConnected returns a channel that closes the next time this
// client completes a (re)connect, for the Uploader's connected wait.
func (c *Client) BecameConnected() <-chan struct{} { return c.connectedCh.Wait() }

// TryLiveSend implements the Formatter's live-path send (spec.md §4.2
// steps 2-5). It never blocks longer than pollTimeout: a write that
// cannot complete within the deadline is treated exactly like poll
// returning 0 (no POLLOUT) and is reported as not sent, without
// disconnecting the client. Any other write error is treated as a
// genuine send failure and disconnects the client.
func (c *Client) TryLiveSend(line string, pollTimeout time.Duration) (sent bool) {
	if !c.connected.Load() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected.Load() {
		return false
	}
	deadline := time.Now().Add(pollTimeout)
	if err := writeFull(c.conn, deadline, line); err != nil {
		if isTimeout(err) {
			return false
		}
		c.markDisconnectedLocked()
		return false
	}
	return true
}

// UploadSend implements the Uploader's send rules (spec.md §4.4). It
// waits (bounded by waitTimeout, repeated until ctx is done) for the
// client to be connected, then attempts one deadline-bounded send.
func (c *Client) UploadSend(ctx context.Context, line string, waitTimeout, pollTimeout time.Duration) Result {
	for !c.connected.Load() {
		select {
		case <-c.BecameConnected():
		case <-time.After(waitTimeout):
		case <-ctx.Done():
			return Cancelled
		}
		if ctx.Err() != nil {
			return Cancelled
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected.Load() {
		return NoDataSent
	}
	deadline := time.Now().Add(pollTimeout)
	if err := writeFull(c.conn, deadline, line); err != nil {
		if !isTimeout(err) {
			c.markDisconnectedLocked()
		}
		return NoDataSent
	}
	return Sent
}

// writeFull sends the entire line before deadline, looping over short
// writes exactly like the send-loop of spec.md §4.2/§4.4.
func writeFull(conn net.Conn, deadline time.Time, line string) error {
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	buf := []byte(line)
	for len(buf) > 0 {
		n, err := conn.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// LockBoth acquires both clients' mutexes in a fixed global order (by
// id, lower first) so the Supervisor can hold both simultaneously
// without risking deadlock against itself — the Go substitute for a
// C++ std::lock() deadlock-avoiding multi-lock (spec.md §5). The
// returned func releases both locks in reverse order.
func LockBoth(a, b *Client) func() {
	if a.id == b.id {
		panic("tcpclient: LockBoth called with the same client twice")
	}
	first, second := a, b
	if first.id > second.id {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}
