package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"jsondb/src/directors"
	"jsondb/src/metrics"
	"jsondb/src/protocol"
	"jsondb/src/session"
	"jsondb/src/settings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Server accepts client connections and runs one session per connection.
type Server struct {
	Host     string
	Port     int
	Listener net.Listener

	manager  *directors.Manager
	logger   *zap.SugaredLogger
	maxFrame uint32
	// nil when accept_rate is 0
	acceptLimiter *rate.Limiter

	wg sync.WaitGroup
}

// NewServer creates a server for the manager's databases. Call Listen, then
// Serve.
func NewServer(config *settings.Arguments, manager *directors.Manager, logger *zap.SugaredLogger) *Server {
	s := &Server{
		Host:     config.Host,
		Port:     config.Port,
		manager:  manager,
		logger:   logger,
		maxFrame: config.MaxFrameSize,
	}
	if config.AcceptRate > 0 {
		burst := int(config.AcceptRate)
		if burst < 1 {
			burst = 1
		}
		s.acceptLimiter = rate.NewLimiter(rate.Limit(config.AcceptRate), burst)
	}
	return s
}

// Listen opens the listening socket.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("error starting server on %s: %w", addr, err)
	}
	s.Listener = listener
	s.logger.Infof("JSONDB server listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	if s.Listener == nil {
		return nil
	}
	return s.Listener.Addr()
}

// Serve accepts connections until ctx is canceled, then closes every
// connection and waits for their goroutines to exit.
func (s *Server) Serve(ctx context.Context) error {
	if s.Listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { s.Listener.Close() })
	defer stop()

	s.logger.Infow("Server started accepting connections", "host", s.Host, "port", s.Port)

	var serveErr error
	for {
		if s.acceptLimiter != nil {
			if err := s.acceptLimiter.Wait(ctx); err != nil {
				break
			}
		}

		conn, err := s.Listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warnw("Temporary accept error", "error", err)
				continue
			}
			serveErr = fmt.Errorf("accept failed: %w", err)
			break
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConnection(ctx, c)
		}(conn)
	}

	s.wg.Wait()
	s.logger.Info("Server stopped accepting connections")
	return multierr.Append(serveErr, s.closeListener())
}

func (s *Server) closeListener() error {
	if err := s.Listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// handleConnection runs the request loop for one client.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	sess := session.New(conn, s.maxFrame, s.logger)
	stop := context.AfterFunc(ctx, func() { sess.Close() })

	s.manager.OpenSession(sess)
	sess.Logger.Info("New connection received")

	defer func() {
		stop()
		s.manager.CloseSession(sess)
		sess.Close()
		sess.Logger.Info("Connection closed")
	}()

	if err := sess.Send(&protocol.Response{Op: protocol.OpAuth}); err != nil {
		return
	}

	for {
		req, err := sess.ReadRequest()
		if err != nil {
			var perr *session.PayloadError
			if errors.As(err, &perr) {
				var id []byte
				if req != nil {
					id = req.ID
				}
				metrics.Requests.WithLabelValues("invalid", perr.Code).Inc()
				sess.Logger.Debugw("Rejected request payload", "error", err)
				if err := sess.Send(protocol.Fail(id, perr.Code)); err != nil {
					return
				}
				continue
			}
			if !isDisconnect(ctx, err) {
				sess.Logger.Warnw("Closing connection after read error", "error", err)
			}
			return
		}

		if !sess.IsAuthenticated() {
			if err := s.manager.Users.Throttle(ctx, sess.Host); err != nil {
				return
			}
		}

		if err := directors.CommandDirector(ctx, s.manager, sess, req); err != nil {
			if !isDisconnect(ctx, err) {
				sess.Logger.Warnw("Failed to write response", "error", err)
			}
			return
		}
	}
}

func isDisconnect(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed)
}
