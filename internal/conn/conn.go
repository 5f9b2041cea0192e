package conn

import (
	"bytes"
	"container/list"
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/valkey-io/valkey-glide-sub003/internal/resp"
)

// ErrConnectionClosed is returned to callers of Send/Recv once a
// Connection has transitioned to StateClosed.
var ErrConnectionClosed = errors.New("conn: connection closed")

// request is one entry in the FIFO inflight queue. RESP replies are
// matched to requests strictly by arrival order (spec.md §4.2), so the
// queue is a plain list, not a correlation-id map — container/list gives
// O(1) removal for request cancellation without scanning, grounded on
// the same container/list usage pattern seen in the pack's queue-based
// worker implementations (see DESIGN.md).
type request struct {
	deadline time.Time
	done     chan struct{}
	reply    resp.Value
	err      error
}

// Connection owns one socket: a dedicated reader goroutine, a dedicated
// writer goroutine, and the ordered inflight queue those goroutines
// share. Callers obtain one via Dial and drive its lifecycle with
// Handshake, Send and Close.
type Connection struct {
	addr   string
	conn   net.Conn
	logger log.Logger

	decoder resp.Decoder
	readBuf []byte

	state atomic.Int32

	mu       sync.Mutex
	inflight *list.List // of *request

	writeCh   chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
	closeErr  error

	lastUsed atomic.Int64 // unix nanos

	// OnPush receives RESP3 push frames (PubSub messages); it must never
	// block the read loop for long. OnClosed fires once, with the error
	// that ended the connection (nil on a clean Close).
	OnPush   func(resp.Value)
	OnClosed func(error)

	inflightCap int
	highWater   chan struct{} // buffered with capacity inflightCap
}

// Options configures a new Connection.
type Options struct {
	Addr        string
	DialTimeout time.Duration
	TLS         TLSConfig
	RESP3       bool
	InflightCap int
	Logger      log.Logger
}

// Dial opens the TCP (optionally TLS-wrapped) socket and starts the
// reader/writer goroutines in StateConnecting. Callers must still run
// Handshake before the connection is usable.
func Dial(ctx context.Context, opts Options) (*Connection, error) {
	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", opts.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "conn: dial %s", opts.Addr)
	}

	tlsCfg, err := opts.TLS.Build()
	if err != nil {
		raw.Close()
		return nil, err
	}
	var c net.Conn = raw
	if tlsCfg != nil {
		tc := tls.Client(raw, tlsCfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, errors.Wrap(err, "conn: TLS handshake")
		}
		c = tc
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	cap := opts.InflightCap
	if cap <= 0 {
		cap = 1000
	}

	conn := &Connection{
		addr:        opts.Addr,
		conn:        c,
		logger:      log.With(logger, "component", "conn", "addr", opts.Addr),
		decoder:     resp.Decoder{MaxBulkLen: resp.DefaultMaxBulkLen, RESP3: opts.RESP3},
		inflight:    list.New(),
		writeCh:     make(chan []byte, 256),
		closeCh:     make(chan struct{}),
		inflightCap: cap,
		highWater:   make(chan struct{}, cap),
	}
	conn.state.Store(int32(StateConnecting))
	conn.touch()

	go conn.readLoop()
	go conn.writeLoop()

	return conn, nil
}

func (c *Connection) touch() { c.lastUsed.Store(time.Now().UnixNano()) }

// LastUsed returns the time of the most recent successful read or write.
func (c *Connection) LastUsed() time.Time {
	return time.Unix(0, c.lastUsed.Load())
}

// State returns the connection's current state.
func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// enqueueWrite hands a fully-encoded frame to the writer goroutine,
// blocking (the "async suspend" of spec.md §4.2) once the number of
// outstanding requests hits inflightCap.
func (c *Connection) enqueueWrite(ctx context.Context, frame []byte) error {
	select {
	case c.highWater <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closeCh:
		return ErrConnectionClosed
	}
	select {
	case c.writeCh <- frame:
		return nil
	case <-ctx.Done():
		<-c.highWater
		return ctx.Err()
	case <-c.closeCh:
		<-c.highWater
		return ErrConnectionClosed
	}
}

// Send writes a pre-encoded command and blocks until its reply arrives,
// the context is cancelled, or the connection closes. RESP3 push frames
// never satisfy a Send call; they are dispatched to OnPush instead.
func (c *Connection) Send(ctx context.Context, frame []byte) (resp.Value, error) {
	if c.State() == StateClosed {
		return resp.Value{}, ErrConnectionClosed
	}
	req := &request{done: make(chan struct{})}
	if dl, ok := ctx.Deadline(); ok {
		req.deadline = dl
	}

	c.mu.Lock()
	elem := c.inflight.PushBack(req)
	c.mu.Unlock()

	if err := c.enqueueWrite(ctx, frame); err != nil {
		c.mu.Lock()
		c.inflight.Remove(elem)
		c.mu.Unlock()
		return resp.Value{}, err
	}

	select {
	case <-req.done:
		return req.reply, req.err
	case <-ctx.Done():
		// The request stays queued; if its reply arrives later, completeHead
		// still pops it from the head of the queue and the reply is dropped
		// with no listener, keeping later replies aligned.
		return resp.Value{}, ctx.Err()
	case <-c.closeCh:
		return resp.Value{}, ErrConnectionClosed
	}
}

func (c *Connection) writeLoop() {
	w := c.conn
	for {
		select {
		case frame := <-c.writeCh:
			frames := [][]byte{frame}
			// Opportunistically batch any further already-queued frames into
			// one vectored write, matching spec.md §4.2's "vectored writes
			// when possible".
		drain:
			for len(frames) < 64 {
				select {
				case f := <-c.writeCh:
					frames = append(frames, f)
				default:
					break drain
				}
			}
			if err := c.writeVectored(w, frames); err != nil {
				c.fail(errors.Wrap(err, "conn: write"))
				return
			}
			for range frames {
				<-c.highWater
			}
			c.touch()
		case <-c.closeCh:
			return
		}
	}
}

func (c *Connection) writeVectored(w io.Writer, frames [][]byte) error {
	if len(frames) == 1 {
		_, err := w.Write(frames[0])
		return err
	}
	var buf bytes.Buffer
	for _, f := range frames {
		buf.Write(f)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (c *Connection) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.readBuf = append(c.readBuf, buf[:n]...)
			c.touch()
			if derr := c.drainReadBuf(); derr != nil {
				c.fail(derr)
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				c.fail(errors.New("conn: connection closed by peer"))
			} else {
				c.fail(errors.Wrap(err, "conn: read"))
			}
			return
		}
	}
}

func (c *Connection) drainReadBuf() error {
	for {
		value, consumed, err := c.decoder.Decode(c.readBuf)
		if err == resp.ErrNeedMore {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "conn: decode")
		}
		c.readBuf = c.readBuf[consumed:]

		if value.Type == resp.TypePush {
			if c.OnPush != nil {
				c.OnPush(value)
			}
			continue
		}
		c.completeHead(value)
	}
}

// completeHead resolves the oldest inflight request with value, per the
// FIFO correlation rule in spec.md §4.2. A reply that arrives after its
// request's context was cancelled still pops the queue head so later
// replies stay aligned; the popped request's done channel may have no
// more listeners, which is fine since the channel is only ever closed
// once and never leaks goroutines.
func (c *Connection) completeHead(value resp.Value) {
	c.mu.Lock()
	front := c.inflight.Front()
	if front == nil {
		c.mu.Unlock()
		level.Warn(c.logger).Log("msg", "reply with no inflight request", "type", value.Type)
		return
	}
	c.inflight.Remove(front)
	c.mu.Unlock()

	req := front.Value.(*request)
	// RESP errors (including MOVED/ASK redirects) are delivered as an
	// ordinary reply, not a Go error: Send's err return is reserved for
	// connection-level failures so the pipeline can inspect reply.Str to
	// classify redirects (spec.md §4.7).
	req.reply = value
	close(req.done)
}

// fail tears the connection down: marks it Closed, fails every inflight
// request with an error wrapping err (or ErrConnectionClosed when err is
// nil, as on Close), and invokes OnClosed once, matching spec.md §4.2's
// failure semantics.
func (c *Connection) fail(err error) {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		c.closeErr = err
		close(c.closeCh)
		c.conn.Close()

		c.mu.Lock()
		pending := make([]*request, 0, c.inflight.Len())
		for e := c.inflight.Front(); e != nil; e = e.Next() {
			pending = append(pending, e.Value.(*request))
		}
		c.inflight.Init()
		c.mu.Unlock()

		cause := err
		if cause == nil {
			cause = ErrConnectionClosed
		}
		for _, r := range pending {
			r.err = errors.Wrap(cause, "conn: request failed")
			close(r.done)
		}

		level.Error(c.logger).Log("msg", "connection failed", "err", err)
		if c.OnClosed != nil {
			c.OnClosed(err)
		}
	})
}

// Drain transitions to StateDraining: no new requests should be routed
// here by the pipeline, but in-flight ones are allowed to complete
// before Close is called.
func (c *Connection) Drain() {
	c.setState(StateDraining)
}

// Close closes the underlying socket and fails any inflight requests.
// Safe to call more than once and from any goroutine.
func (c *Connection) Close() error {
	c.fail(nil)
	return nil
}

// Err returns the error that closed the connection, or nil if it is
// still open or was closed cleanly.
func (c *Connection) Err() error { return c.closeErr }
