package directors

import (
	"context"
	"fmt"
	"os"

	"jsondb/src/auth"
	"jsondb/src/engine"
	"jsondb/src/events"
	"jsondb/src/helpers"
	"jsondb/src/ratelimit"
	"jsondb/src/session"
	"jsondb/src/settings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ManagerOptions tunes parts of the manager that tests replace.
type ManagerOptions struct {
	// HashParams is used for newly created users. Zero means
	// auth.DefaultHashParams.
	HashParams auth.HashParams
	// OnPersistFailure is called when a snapshot write fails.
	OnPersistFailure engine.FailureHandler
}

// Manager holds all process state and is handed to every command.
type Manager struct {
	Settings  *settings.Arguments
	Logger    *zap.SugaredLogger
	Databases *DatabaseService
	Users     *UserService
	Events    *events.Hub
	Sessions  *session.Registry

	persister *engine.Persister
	limiter   *ratelimit.RateLimiter
	accessLog chan AccessEntry
	lockFile  *os.File
}

// NewManager locks the data directory, loads users and discovers databases.
// On first start the root user is created from cfg.RootPassword.
func NewManager(cfg *settings.Arguments, logger *zap.SugaredLogger, opts ManagerOptions) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	lockFile, err := helpers.LockDirectory(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	m, err := newManager(cfg, logger, opts, lockFile)
	if err != nil {
		lockFile.Close()
		return nil, err
	}
	return m, nil
}

func newManager(cfg *settings.Arguments, logger *zap.SugaredLogger, opts ManagerOptions, lockFile *os.File) (*Manager, error) {
	params := opts.HashParams
	if params == (auth.HashParams{}) {
		params = auth.DefaultHashParams
	}

	userStore, err := auth.NewUserStore(cfg.DataDir, params, logger)
	if err != nil {
		return nil, err
	}
	if err := userStore.EnsureRoot(cfg.RootPassword); err != nil {
		return nil, fmt.Errorf("failed to create root user: %w", err)
	}

	codec, err := engine.CodecFor(cfg.StorageFormat)
	if err != nil {
		return nil, err
	}

	persister := engine.NewPersister(cfg.PersistQueueSize, logger, opts.OnPersistFailure)
	store, err := engine.NewStorageEngine(cfg.DataDir, codec, persister, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage engine: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		Limit:  cfg.AuthLimit,
		Window: cfg.AuthWindow,
		Delay:  cfg.AuthDelay,
	})

	m := &Manager{
		Settings:  cfg,
		Logger:    logger,
		Databases: NewDatabaseService(store, logger),
		Users:     NewUserService(userStore, limiter, logger),
		Events:    events.NewHub(cfg.EventQueueSize, logger),
		Sessions:  session.NewRegistry(),
		persister: persister,
		limiter:   limiter,
		accessLog: make(chan AccessEntry, cfg.LogQueueSize),
		lockFile:  lockFile,
	}

	logger.Info("Manager initialized")
	return m, nil
}

// Run starts the background workers and blocks until ctx is canceled and
// they have finished. Queued snapshots are flushed before it returns.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.persister.Run(gctx) })
	g.Go(func() error { return m.limiter.Run(gctx) })
	g.Go(func() error { return m.runAccessLog(gctx) })
	return g.Wait()
}

// OpenSession registers a new connection.
func (m *Manager) OpenSession(s *session.Session) {
	m.Sessions.Add(s)
}

// CloseSession releases everything s holds: its event subscription, its
// database hold and its registry entry.
func (m *Manager) CloseSession(s *session.Session) {
	m.Events.Unregister(s)
	m.Databases.ReleaseDatabase(s.ID(), s.Database())
	m.Sessions.Remove(s)
}

// Close stops event delivery and releases the data directory lock. Call it
// after Run has returned.
func (m *Manager) Close() error {
	m.Events.Close()

	var err error
	if m.lockFile != nil {
		err = multierr.Append(err, m.lockFile.Close())
		m.lockFile = nil
	}
	return err
}
