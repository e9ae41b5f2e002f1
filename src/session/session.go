package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"jsondb/src/auth"
	"jsondb/src/helpers"
	"jsondb/src/protocol"
	"jsondb/src/ratelimit"

	"go.uber.org/zap"
)

// PayloadError is a problem with one request's payload. The frame boundary
// was intact, so the session answers with Code and keeps going.
type PayloadError struct {
	Code string
	Err  error
}

func (e *PayloadError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// Session is one client connection and its authentication and database
// state.
type Session struct {
	id         string
	Conn       net.Conn
	Reader     *bufio.Reader
	Writer     *bufio.Writer
	RemoteAddr string
	Host       string
	Logger     *zap.SugaredLogger

	maxFrame   uint32
	compressed atomic.Bool

	writeMu sync.Mutex

	mu         sync.RWMutex
	user       *auth.User
	database   string
	lastActive time.Time

	closeOnce sync.Once
}

// New wraps conn. maxFrame bounds the size of inbound frames.
func New(conn net.Conn, maxFrame uint32, logger *zap.SugaredLogger) *Session {
	id := helpers.GenerateULID()
	remote := conn.RemoteAddr().String()

	return &Session{
		id:         id,
		Conn:       conn,
		Reader:     bufio.NewReader(conn),
		Writer:     bufio.NewWriter(conn),
		RemoteAddr: remote,
		Host:       ratelimit.HostOf(remote),
		Logger:     logger.With("connID", id, "remoteAddr", remote),
		maxFrame:   maxFrame,
		lastActive: time.Now(),
	}
}

func (s *Session) ID() string { return s.id }

// ReadRequest reads the next frame. A *PayloadError means the request is
// unusable but the stream is fine; any other error ends the session. The
// returned request may be non-nil alongside a PayloadError so its id can be
// echoed.
func (s *Session) ReadRequest() (*protocol.Request, error) {
	payload, err := protocol.ReadFrame(s.Reader, s.maxFrame)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()

	if s.compressed.Load() {
		payload, err = protocol.Decompress(payload)
		if err != nil {
			return nil, &PayloadError{Code: protocol.CodeDecoding, Err: err}
		}
	}

	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		return nil, &PayloadError{Code: protocol.CodeDecoding, Err: err}
	}
	if req.Op == "" {
		return req, &PayloadError{Code: protocol.CodeFormat, Err: errors.New("missing op")}
	}
	return req, nil
}

// Send writes one response frame. Safe for concurrent use.
func (s *Session) Send(resp *protocol.Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.compressed.Load() {
		payload = protocol.Compress(payload)
	}
	if err := protocol.WriteFrame(s.Writer, payload); err != nil {
		return err
	}
	return s.Writer.Flush()
}

// SendEvent writes an event frame.
func (s *Session) SendEvent(name string, data interface{}) error {
	return s.Send(protocol.Event(name, data))
}

// EnableCompression switches both directions to zstd from the next frame on.
func (s *Session) EnableCompression() {
	s.writeMu.Lock()
	s.compressed.Store(true)
	s.writeMu.Unlock()
}

func (s *Session) Compressed() bool { return s.compressed.Load() }

// Authenticate records user as the session's principal.
func (s *Session) Authenticate(user *auth.User) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	s.Logger = s.Logger.With("user", user.Username)
}

func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

func (s *Session) User() *auth.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Database returns the name of the open database, or "".
func (s *Session) Database() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.database
}

func (s *Session) SetDatabase(name string) {
	s.mu.Lock()
	s.database = name
	s.mu.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Close closes the underlying connection. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.Conn.Close()
	})
	return err
}
