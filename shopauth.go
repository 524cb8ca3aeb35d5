// Package shopauth assembles the authentication service from configuration:
// storage, attempt throttling, session cookies, the access guard, the flow
// managers and their observers.
//
//	cfg, _ := config.LoadConfig()
//	svc, err := shopauth.New(ctx, cfg)
//	if err != nil { ... }
//	defer svc.Close(context.Background())
//
//	e := echo.New()
//	svc.Routes(e)
package shopauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pointshop/shopauth/api"
	"github.com/pointshop/shopauth/audit"
	"github.com/pointshop/shopauth/config"
	"github.com/pointshop/shopauth/flow"
	"github.com/pointshop/shopauth/guard"
	"github.com/pointshop/shopauth/health"
	"github.com/pointshop/shopauth/logger"
	"github.com/pointshop/shopauth/persistence"
	"github.com/pointshop/shopauth/session"
	"github.com/pointshop/shopauth/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const Version = "1.0.0"

// Service holds every wired component.
type Service struct {
	Config       *config.Config
	Repo         *persistence.Repository
	Sessions     *session.Manager
	Throttle     *flow.Throttle
	Login        *flow.LoginManager
	Registration *flow.RegistrationManager
	Profile      *flow.ProfileReconciler
	OIDC         *flow.OIDCManager
	Guard        *guard.Guard
	Handler      *api.Handler
	Telemetry    *telemetry.Provider
	Health       *health.Manager

	cancel  context.CancelFunc
	closers []func(context.Context) error
}

// New builds the service described by cfg. The returned Service owns its
// storage connections until Close.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	s := &Service{Config: cfg}
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.init(ctx); err != nil {
		s.Close(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Service) init(ctx context.Context) error {
	cfg := s.Config

	repo, err := persistence.NewStorage(cfg.DBType, cfg.DSN, persistence.Options{SkipMigrate: cfg.SkipAutoMigrate})
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	s.Repo = repo
	s.closers = append(s.closers, func(context.Context) error { return repo.Close() })

	s.Health = health.NewManager(Version, health.WithTimeout(2*time.Second))
	s.Health.Register(health.NewPingChecker("database", repo.Ping))

	store, err := s.lockoutStore(ctx)
	if err != nil {
		return err
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = Version
	tcfg.Environment = cfg.AppEnv
	tcfg.OTLPEndpoint = cfg.OTLPEndpoint
	tcfg.Enabled = cfg.TelemetryEnabled
	s.Telemetry, err = telemetry.NewProvider(tcfg)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	s.closers = append(s.closers, s.Telemetry.Shutdown)

	s.Throttle = flow.NewThrottle(store, cfg.LockoutMaxFailures, cfg.LockoutDuration, cfg.LockoutFailureWindow)
	s.Throttle.SetHooks(flow.LockoutHooks{
		OnCleared: func(ctx context.Context, key string) {
			logger.Log.Debug("login attempts cleared", zap.String("email", key))
		},
	})

	hasher := flow.NewBcryptHasher(cfg.BcryptCost)
	s.Login = flow.NewLoginManager(repo, hasher, s.Throttle)
	s.Registration = flow.NewRegistrationManager(repo, hasher, s.Login)
	s.Profile = flow.NewProfileReconciler(repo)

	recorder, err := audit.NewRecorder(repo, 1)
	if err != nil {
		return err
	}
	for _, o := range []flow.Observer{recorder, s.Telemetry} {
		s.Login.AddObserver(o)
		s.Registration.AddObserver(o)
		s.Profile.AddObserver(o)
	}

	if len(cfg.OIDCProviders) > 0 {
		s.OIDC, err = flow.NewOIDCManager(ctx, cfg.OIDCProviders, repo, s.Login, s.Registration)
		if err != nil {
			return fmt.Errorf("oidc: %w", err)
		}
	}

	s.Sessions = session.NewManager(session.Config{
		Secret:         []byte(cfg.SessionSecret),
		ProviderSecret: []byte(cfg.ProviderSecret),
		Secure:         cfg.Production(),
	})
	s.Guard = guard.New(cfg.LoginPath, cfg.ProtectedPaths, s.Sessions)
	s.Handler = api.NewHandler(s.Login, s.Registration, s.Profile, s.Sessions, s.OIDC)
	return nil
}

func (s *Service) lockoutStore(ctx context.Context) (flow.LockoutStore, error) {
	cfg := s.Config
	switch cfg.LockoutStore {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		s.closers = append(s.closers, func(context.Context) error { return client.Close() })

		store := flow.NewRedisLockoutStore(client, cfg.LockoutPrefix)
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis lockout store: %w", err)
		}
		s.Health.Register(health.NewPingChecker("redis", store.Ping))
		return store, nil
	default:
		store := flow.NewMemoryLockoutStore()
		window := cfg.LockoutFailureWindow
		if cfg.LockoutDuration > window {
			window = cfg.LockoutDuration
		}
		store.StartJanitor(ctx, time.Minute, window)
		return store, nil
	}
}

// Routes registers the authentication routes, the guard, /healthz and /metrics on e.
func (s *Service) Routes(e *echo.Echo) {
	e.GET("/healthz", echo.WrapHandler(s.Health.Handler()))
	e.GET("/metrics", echo.WrapHandler(s.Telemetry.Handler()))
	s.Handler.RegisterRoutes(e, s.Guard)
}

// Close stops background work and releases connections in reverse order.
func (s *Service) Close(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
