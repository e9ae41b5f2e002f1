package directors

import (
	"context"
	"errors"

	"jsondb/src/auth"
	"jsondb/src/metrics"
	"jsondb/src/ratelimit"

	"go.uber.org/zap"
)

// ErrAuthFailed covers both an unknown user and a wrong password.
var ErrAuthFailed = errors.New("authentication failed")

// UserService combines the user store with the auth rate limiter.
type UserService struct {
	store   *auth.UserStore
	limiter *ratelimit.RateLimiter
	logger  *zap.SugaredLogger
}

func NewUserService(store *auth.UserStore, limiter *ratelimit.RateLimiter, logger *zap.SugaredLogger) *UserService {
	return &UserService{
		store:   store,
		limiter: limiter,
		logger:  logger,
	}
}

func (s *UserService) Store() *auth.UserStore { return s.store }

func (s *UserService) Limiter() *ratelimit.RateLimiter { return s.limiter }

// Authenticate checks credentials and records the attempt for host.
func (s *UserService) Authenticate(host, username, password string) (*auth.User, error) {
	user, ok := s.store.VerifyCredentials(username, password)
	s.limiter.RegisterAttempt(host, ok)
	if !ok {
		metrics.AuthFailures.Inc()
		s.logger.Infow("Failed authentication", "host", host, "user", username,
			"failures", s.limiter.Failures(host))
		return nil, ErrAuthFailed
	}
	return user, nil
}

// Throttle delays the caller if host has too many failed attempts.
func (s *UserService) Throttle(ctx context.Context, host string) error {
	if s.limiter.IsAllowed(host) {
		return nil
	}
	metrics.ThrottledRequests.Inc()
	s.logger.Debugw("Delaying request from throttled host", "host", host, "delay", s.limiter.Delay())
	return s.limiter.Wait(ctx, host)
}

func (s *UserService) GetUserByName(username string) (*auth.User, error) {
	user := s.store.GetUser(username)
	if user == nil {
		return nil, auth.ErrUserNotFound
	}
	return user, nil
}

func (s *UserService) AddUser(username, password string, global []auth.Permission) (*auth.User, error) {
	return s.store.CreateUser(username, password, global)
}

func (s *UserService) GrantDBPermission(username, database string, p auth.Permission) error {
	return s.store.AddDBPermission(username, database, p)
}

func (s *UserService) RevokeDBPermission(username, database string, p auth.Permission) error {
	return s.store.RemoveDBPermission(username, database, p)
}
