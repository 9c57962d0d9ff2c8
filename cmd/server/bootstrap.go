package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/usermanager/internal/api"
	"github.com/charlesng35/usermanager/internal/app"
	"github.com/charlesng35/usermanager/internal/app/maintenance"
	iauth "github.com/charlesng35/usermanager/internal/auth"
	"github.com/charlesng35/usermanager/internal/auth/providers"
	"github.com/charlesng35/usermanager/internal/cache"
	"github.com/charlesng35/usermanager/internal/database"
	"github.com/charlesng35/usermanager/internal/middleware"
	"github.com/charlesng35/usermanager/internal/notifications"
	"github.com/charlesng35/usermanager/internal/services"
	"github.com/charlesng35/usermanager/internal/store"
	"github.com/charlesng35/usermanager/pkg/logger"
	"github.com/charlesng35/usermanager/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Cache      cache.Store
	Dispatcher *notifications.Dispatcher
	Bridge     *iauth.FederationBridge
	Cleaner    *maintenance.Cleaner
	Router     *gin.Engine
}

// providerFactory builds the external identity provider. Tests swap it out to avoid
// issuer discovery over the network.
type providerFactory func(ctx context.Context, settings providers.OIDCSettings, opts providers.OIDCOptions) (providers.Provider, error)

// bootstrapRuntime initialises the database, email pipeline, services and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger, newProvider providerFactory) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}
	if newProvider == nil {
		newProvider = providers.NewOIDCProvider
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}
	stack.Cache = cache.NewDatabaseStore(stack.DB)

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}
	if !cfg.Email.SMTP.Enabled {
		log.Warn("smtp disabled; outbound email will be dropped")
	}

	stack.Dispatcher, err = notifications.NewDispatcher(cfg.Email.AdmissionGate(), mailer, cfg.Email.DispatcherConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise email dispatcher: %w", err)
	}

	accounts, err := store.NewGormAccountStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise account store: %w", err)
	}

	credentials, err := services.NewCredentialService(accounts, stack.Dispatcher, cfg.Auth.CredentialOptions(cfg.Server.FrontendURL)...)
	if err != nil {
		return nil, fmt.Errorf("initialise credential service: %w", err)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	if cfg.Auth.Federation.Enabled {
		stack.Bridge, err = initialiseFederation(ctx, cfg, accounts, stack.Cache, stack.Dispatcher, newProvider)
		if err != nil {
			return nil, err
		}
		log.Info("federated sign-in enabled", zap.String("issuer", cfg.Auth.Federation.Issuer))
	}

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(maintenance.WithCachePurge(stack.Cache, cfg.Maintenance.CacheCleanupSchedule))
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	var rateStore middleware.RateStore
	switch strings.ToLower(strings.TrimSpace(cfg.Server.RateLimit.Store)) {
	case "database":
		rateStore = middleware.NewCacheRateStore(stack.Cache)
	default:
		rateStore = middleware.NewMemoryRateStore()
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:          stack.DB,
		JWT:         jwtSvc,
		Credentials: credentials,
		Federation:  stack.Bridge,
		RateStore:   rateStore,
		Config:      cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func initialiseFederation(ctx context.Context, cfg *app.Config, accounts store.AccountStore, markers cache.Store, mailer notifications.Enqueuer, newProvider providerFactory) (*iauth.FederationBridge, error) {
	provider, err := newProvider(ctx, cfg.Auth.OIDCSettings(), cfg.Auth.OIDCOptions())
	if err != nil {
		return nil, fmt.Errorf("initialise identity provider: %w", err)
	}

	key, err := cfg.Auth.StateKey()
	if err != nil {
		return nil, fmt.Errorf("decode federation state key: %w", err)
	}
	codec, err := iauth.NewStateCodec(key, cfg.Auth.StateTTL(), nil)
	if err != nil {
		return nil, fmt.Errorf("initialise federation state codec: %w", err)
	}

	bridge, err := iauth.NewFederationBridge(provider, codec, accounts, markers, mailer, cfg.Auth.FederationConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise federation bridge: %w", err)
	}
	return bridge, nil
}

// Shutdown drains background work and releases resources. Pending notifications are
// handed to the dispatcher before it stops accepting jobs.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Bridge != nil {
		s.Bridge.Wait()
	}

	if s.Dispatcher != nil {
		if err := s.Dispatcher.Close(ctx); err != nil {
			log.Warn("email dispatcher shutdown", zap.Error(err))
		}
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	driver := dbCfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	logger.WithModule("database").Info("database connected", zap.String("driver", driver))

	return db, nil
}
