// Package client is a Go client for the JSONDB wire protocol.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"jsondb/src/helpers"
	"jsondb/src/protocol"

	"go.uber.org/zap"
)

// Options configure Dial.
type Options struct {
	// Retries is the number of connection attempts, 0 means retry until ctx
	// is done.
	Retries int
	// Backoff is the fixed pause between attempts.
	Backoff      time.Duration
	DialTimeout  time.Duration
	MaxFrameSize uint32
	Logger       *zap.SugaredLogger
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Backoff <= 0 {
		out.Backoff = time.Second
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 5 * time.Second
	}
	if out.MaxFrameSize == 0 {
		out.MaxFrameSize = 16 << 20
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop().Sugar()
	}
	return out
}

// Listener receives the payload of one event.
type Listener func(data json.RawMessage)

type response struct {
	Op    string          `json:"op"`
	ID    string          `json:"id"`
	D     json.RawMessage `json:"d"`
	Error string          `json:"error"`
}

type eventFrame struct {
	Event string          `json:"ev"`
	D     json.RawMessage `json:"d"`
}

// Client is one connection to a server. Requests may be issued from many
// goroutines; responses are matched to requests by id.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	opts    Options
	logger  *zap.SugaredLogger
	writeMu sync.Mutex

	compressed atomic.Bool
	// set while an auth request asking for zstd is in flight
	wantZstd atomic.Bool

	mu        sync.Mutex
	pending   map[string]chan *response
	listeners map[string][]Listener

	closed    chan struct{}
	closeOnce sync.Once
	err       error
	loopDone  chan struct{}
}

// Dial connects to addr, retrying as configured, and waits for the server's
// auth greeting.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	o := opts.withDefaults()
	dialer := net.Dialer{Timeout: o.DialTimeout}

	var lastErr error
	for attempt := 1; o.Retries == 0 || attempt <= o.Retries; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			c, err := newClient(conn, o)
			if err == nil {
				return c, nil
			}
			conn.Close()
			lastErr = err
		} else {
			lastErr = err
		}

		o.Logger.Debugw("Connection attempt failed", "addr", addr, "attempt", attempt, "error", lastErr)
		if o.Retries != 0 && attempt == o.Retries {
			break
		}

		timer := time.NewTimer(o.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial %s: %w (last error: %v)", addr, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("dial %s: giving up after %d attempts: %w", addr, o.Retries, lastErr)
}

func newClient(conn net.Conn, o Options) (*Client, error) {
	reader := bufio.NewReader(conn)

	conn.SetReadDeadline(time.Now().Add(o.DialTimeout))
	payload, err := protocol.ReadFrame(reader, o.MaxFrameSize)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		return nil, err
	}
	var greeting response
	if err := json.Unmarshal(payload, &greeting); err != nil || greeting.Op != protocol.OpAuth {
		return nil, ErrUnexpectedGreeting
	}

	c := &Client{
		conn:      conn,
		reader:    reader,
		opts:      o,
		logger:    o.Logger,
		pending:   make(map[string]chan *response),
		listeners: make(map[string][]Listener),
		closed:    make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// On registers fn for events named name. Listeners run on the read loop and
// must not block or issue requests themselves.
func (c *Client) On(name string, fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name = strings.ToLower(name)
	c.listeners[name] = append(c.listeners[name], fn)
}

func (c *Client) readLoop() {
	defer close(c.loopDone)
	for {
		payload, err := protocol.ReadFrame(c.reader, c.opts.MaxFrameSize)
		if err != nil {
			c.shutdown(err)
			return
		}
		if c.compressed.Load() {
			payload, err = protocol.Decompress(payload)
			if err != nil {
				c.logger.Warnw("Dropping undecodable frame", "error", err)
				continue
			}
		}

		var resp response
		if err := json.Unmarshal(payload, &resp); err != nil {
			c.logger.Warnw("Dropping invalid frame", "error", err)
			continue
		}

		if resp.Op == protocol.OpEvent {
			c.dispatchEvent(resp.D)
			continue
		}
		if resp.Op == protocol.OpAuthed && c.wantZstd.Load() {
			c.compressed.Store(true)
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debugw("Response for unknown request", "id", resp.ID)
			continue
		}
		ch <- &resp
	}
}

func (c *Client) dispatchEvent(raw json.RawMessage) {
	var ev eventFrame
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.logger.Warnw("Dropping invalid event", "error", err)
		return
	}

	c.mu.Lock()
	fns := append([]Listener(nil), c.listeners[strings.ToLower(ev.Event)]...)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev.D)
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.pending = make(map[string]chan *response)
		c.mu.Unlock()
		close(c.closed)
		c.conn.Close()
	})
}

// Close closes the connection and waits for the read loop to stop.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	<-c.loopDone
	return nil
}

// Request sends op with payload d and returns the response data.
func (c *Client) Request(ctx context.Context, op string, d interface{}) (json.RawMessage, error) {
	resp, err := c.roundTrip(ctx, op, d)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &Error{Code: resp.Error}
	}
	return resp.D, nil
}

func (c *Client) roundTrip(ctx context.Context, op string, d interface{}) (*response, error) {
	id := helpers.GenerateULID()
	req := struct {
		Op string      `json:"op"`
		ID string      `json:"id"`
		D  interface{} `json:"d,omitempty"`
	}{Op: op, ID: id, D: d}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	ch := make(chan *response, 1)
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.send(payload); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.compressed.Load() {
		payload = protocol.Compress(payload)
	}
	if err := protocol.WriteFrame(c.conn, payload); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

// Err returns why the connection closed, or nil while it is open.
func (c *Client) Err() error {
	select {
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.err
	default:
		return nil
	}
}
