// Package server initializes and runs the directory server: configuration,
// database and migrations, key material, the authentication and directory
// services, and graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lightldap/lightldap/internal/logging"
	"github.com/lightldap/lightldap/internal/server/config"
	"github.com/lightldap/lightldap/internal/server/keys"
	"github.com/lightldap/lightldap/internal/server/ldap"
	"github.com/lightldap/lightldap/internal/server/pake"
	"github.com/lightldap/lightldap/internal/server/repositories/repomanager"
	"github.com/lightldap/lightldap/internal/server/schema"
	"github.com/lightldap/lightldap/internal/server/services"
	"github.com/lightldap/lightldap/internal/server/tokens"
)

// expiredFamilySweepInterval is how often expired refresh-token families are
// purged.
const expiredFamilySweepInterval = time.Hour

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	repos       repomanager.RepositoryManager
	schema      *schema.Schema
	keys        *keys.FileProvider
	issuer      *tokens.Issuer
	authService *services.AuthService
	directory   *services.DirectoryService
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	sch, err := schema.New(cfg.BaseDN)
	if err != nil {
		return nil, fmt.Errorf("schema init error: %w", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	keyProvider, err := keys.Load(cfg.KeysDir)
	if err != nil {
		return nil, fmt.Errorf("key material error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()

	suite := pake.NewOpaqueSuite(keyProvider)
	authenticator := pake.NewAuthenticator(suite, repos.Users(db), repos.Credentials(db),
		keyProvider, cfg.ExchangeTTL, logger)
	issuer := tokens.NewIssuer(db, repos, keyProvider,
		cfg.AccessTokenValidityDuration, cfg.RefreshTokenValidityDuration, logger)
	directory := services.NewDirectoryService(db, repos, sch, keyProvider.KeyRef(), logger)
	authService := services.NewAuthService(authenticator, issuer, repos.Users(db), cfg.AdminGroup, logger)

	return &App{
		config:      cfg,
		logger:      logger,
		db:          db,
		repos:       repos,
		schema:      sch,
		keys:        keyProvider,
		issuer:      issuer,
		authService: authService,
		directory:   directory,
	}, nil
}

// Auth exposes the authentication service to the outer transport layers.
func (app *App) Auth() *services.AuthService { return app.authService }

// Directory exposes the administrative service to the outer transport layers.
func (app *App) Directory() *services.DirectoryService { return app.directory }

// NewSession starts an anonymous protocol session for one connection.
func (app *App) NewSession() *ldap.Session {
	return ldap.NewSession(app.schema, app.authService,
		app.repos.Users(app.db), app.repos.Groups(app.db),
		app.config.AdminUser, app.config.AdminGroup, app.config.DefaultSizeLimit, app.logger)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// sweepExpiredFamilies periodically removes refresh-token families past
// their expiry.
func (app *App) sweepExpiredFamilies(ctx context.Context) {
	ticker := time.NewTicker(expiredFamilySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := app.issuer.DeleteExpired(ctx)
			if err != nil {
				app.logger.Error(ctx, "expired family sweep failed", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "expired families removed", "count", n)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting server", "addr", app.config.BindAddr, "base_dn", app.schema.BaseDN())

	app.initSignalHandler(cancelFunc)

	if err := app.repos.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}

	if err := services.Bootstrap(ctx, app.directory,
		app.config.AdminUser, app.config.AdminGroup, []byte(app.config.AdminPassword)); err != nil {
		return fmt.Errorf("bootstrap error: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.sweepExpiredFamilies(ctx)
	}()

	<-ctx.Done()
	wg.Wait()

	app.logger.Info(context.Background(), "server stopped")
	return app.db.Close()
}
