package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/optistrat/adminauth/internal/auth/domain"
	httpapi "github.com/optistrat/adminauth/internal/auth/http"
	"github.com/optistrat/adminauth/internal/auth/service"
	"github.com/optistrat/adminauth/internal/auth/store"
	"github.com/optistrat/adminauth/internal/auth/store/drivers/sqlite"
	"github.com/optistrat/adminauth/pkg/cryptox"
	"github.com/optistrat/adminauth/pkg/jwtx"
	"github.com/optistrat/adminauth/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the auth service with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db       store.Store
	signer   *jwtx.EdDSASigner
	keys     *jwtx.KeySet
	verifier jwtx.Verifier

	// Services
	loginService        *service.LoginService
	mfaService          *service.MFAService
	throttleService     *service.ThrottleService
	bootstrapService    *service.BootstrapService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "adminauth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Set pepper path for password hashing
	cryptox.SetPepperPath(app.cfg.PepperFile)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	// Ephemeral signing keys; restarting invalidates outstanding sessions,
	// which is fine for a 15-minute back-office token.
	signer, keys, err := jwtx.NewEphemeralSigner()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.signer = signer
	app.keys = keys
	app.verifier = jwtx.NewVerifierEdDSA(keys, cfg.Issuer, []string{cfg.Audience})

	app.initServices()

	if err := app.bootstrap(); err != nil {
		return nil, err
	}

	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	// Start housekeeping service
	app.housekeepingService.Start()

	app.logger.Info("adminauth starting", "port", app.cfg.Port, "version", BuildVersion)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down adminauth...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	// Stop the housekeeping service
	app.housekeepingService.Stop()

	// Close database connection
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("adminauth stopped")
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.throttleService = &service.ThrottleService{
		Store:  app.db,
		Logger: app.logger,
	}

	app.mfaService = &service.MFAService{
		Store:  app.db,
		Issuer: app.cfg.Issuer,
	}

	app.loginService = &service.LoginService{
		Identity:     &service.StoreIdentity{Store: app.db},
		MFA:          app.mfaService,
		Throttle:     app.throttleService,
		Store:        app.db,
		Signer:       app.signer,
		Issuer:       app.cfg.Issuer,
		Audience:     []string{app.cfg.Audience},
		AccessTTL:    app.cfg.AccessTokenTTL,
		AllowedRoles: []string{domain.RoleAdmin, domain.RoleEditor},
		LoginPolicy:  app.loginPolicy(),
		ChallengeTTL: app.cfg.ChallengeTTL,
		Logger:       app.logger,
	}

	app.bootstrapService = &service.BootstrapService{
		Store:  app.db,
		Logger: app.logger,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

// bootstrap seeds the role set and, when configured, the first admin.
func (app *Application) bootstrap() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.bootstrapService.EnsureRoles(ctx); err != nil {
		return fmt.Errorf("failed to ensure roles: %w", err)
	}
	if err := app.bootstrapService.EnsureAdmin(ctx,
		app.cfg.BootstrapAdminEmail,
		app.cfg.BootstrapAdminPassword,
	); err != nil {
		return fmt.Errorf("failed to seed admin principal: %w", err)
	}
	return nil
}

func (app *Application) loginPolicy() domain.ThrottlePolicy {
	policy := domain.DefaultLoginPolicy
	if app.cfg.LoginMaxAttempts > 0 {
		policy.MaxAttempts = app.cfg.LoginMaxAttempts
	}
	if app.cfg.LoginWindow > 0 {
		policy.Window = app.cfg.LoginWindow
	}
	return policy
}

func (app *Application) chatPolicy() domain.ThrottlePolicy {
	policy := domain.DefaultChatPolicy
	if app.cfg.ChatMaxAttempts > 0 {
		policy.MaxAttempts = app.cfg.ChatMaxAttempts
	}
	if app.cfg.ChatWindow > 0 {
		policy.Window = app.cfg.ChatWindow
	}
	return policy
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keys,
		app.verifier,
		BuildVersion,
		app.db,
		app.logger,
	)

	// Wire services to router
	router.LoginService = app.loginService
	router.MFAService = app.mfaService
	router.ThrottleService = app.throttleService
	router.ThrottlePolicies = map[string]domain.ThrottlePolicy{
		domain.DefaultLoginPolicy.Endpoint: app.loginPolicy(),
		domain.DefaultChatPolicy.Endpoint:  app.chatPolicy(),
	}
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
