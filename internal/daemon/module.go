package daemon

import (
	"context"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport/rest"
	"github.com/matheus3301/chatsync/internal/transport/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	Config     *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideCache,
			provideRegistry,
			provideMetrics,
			provideIdentity,
			provideREST,
			provideSocket,
			provideTracker,
			provideReconciler,
			provideEngine,
			provideChatService,
			provideDebugServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	if p.Config == nil {
		return config.Default()
	}
	return p.Config
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile), p.Profile)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideCache takes the lock so no second daemon opens the same file.
func provideCache(p Params, _ *lock.Lock, logger *zap.Logger) (*cache.DB, error) {
	dbPath := profile.CachePath(p.Profile)
	db, err := cache.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

// provideIdentity reads the user id from the token. Without a token the
// daemon still serves cached data, but every own message counts as foreign.
func provideIdentity(cfg *config.Config, logger *zap.Logger) (auth.Identity, error) {
	if cfg.Server.Token == "" {
		logger.Warn("no token configured, requests will be anonymous")
		return auth.Identity{}, nil
	}
	id, err := auth.FromToken(cfg.Server.Token)
	if err != nil {
		return auth.Identity{}, err
	}
	logger.Info("identity resolved", zap.String("user_id", id.UserID), zap.String("username", id.Username))
	return id, nil
}

func provideREST(cfg *config.Config, logger *zap.Logger) *rest.Client {
	return rest.New(rest.Config{
		BaseURL: cfg.Server.BaseURL,
		Token:   cfg.Server.Token,
		Timeout: cfg.Sync.RequestTimeout.Duration,
	}, logger)
}

func provideSocket(cfg *config.Config, b *bus.Bus, machine *status.Machine, m *metrics.Metrics, logger *zap.Logger) *ws.Client {
	return ws.New(ws.Config{
		URL:             cfg.SocketURL(),
		Token:           cfg.Server.Token,
		AckTimeout:      cfg.Sync.AckTimeout.Duration,
		InitialInterval: cfg.Reconnect.InitialInterval.Duration,
		MaxInterval:     cfg.Reconnect.MaxInterval.Duration,
		MaxElapsed:      cfg.Reconnect.MaxElapsed.Duration,
	}, b, machine, m, logger)
}

func provideTracker(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *outbox.Tracker {
	return outbox.NewTracker(cfg.Sync.SendTimeout.Duration, m, logger)
}

func provideReconciler(db *cache.DB, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, logger)
}

func provideEngine(
	cfg *config.Config,
	id auth.Identity,
	sock *ws.Client,
	restClient *rest.Client,
	b *bus.Bus,
	tracker *outbox.Tracker,
	recon *intsync.Reconciler,
	m *metrics.Metrics,
	logger *zap.Logger,
) *intsync.Engine {
	return intsync.NewEngine(sock, restClient, b, tracker, recon, m, intsync.Options{
		SelfID:         id.UserID,
		RequestTimeout: cfg.Sync.RequestTimeout.Duration,
		SendRate:       cfg.Sync.SendRate,
	}, logger)
}

func provideChatService(p Params, id auth.Identity, engine *intsync.Engine, machine *status.Machine, tracker *outbox.Tracker, b *bus.Bus, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(p.Profile, id.UserID, engine, machine, tracker, b, logger)
}

func provideDebugServer(cfg *config.Config, reg *prometheus.Registry, machine *status.Machine, logger *zap.Logger) *DebugServer {
	return NewDebugServer(cfg.Debug.MetricsAddr, reg, machine, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	debug *DebugServer,
	lk *lock.Lock,
	db *cache.DB,
	sock *ws.Client,
	engine *intsync.Engine,
	machine *status.Machine,
	logger *zap.Logger,
) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The engine subscribes before the socket can publish.
			engine.Start(ctx)
			sock.Start(ctx)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			if err := debug.Start(); err != nil {
				logger.Warn("debug server disabled", zap.Error(err))
			}

			// Cached conversations first, then the server list.
			go engine.Bootstrap(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			srv.Stop(stopCtx)
			debug.Stop(stopCtx)
			cancel()
			sock.Stop()
			engine.Stop()
			_ = machine.Transition(status.Closed)
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
