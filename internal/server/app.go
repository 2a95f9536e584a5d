// Package server initializes and runs the reward vault API server: it opens
// the database, applies migrations, wires the services and serves HTTP until
// the process is signalled to stop.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/blobstore"
	"github.com/dmitrijs2005/rewardvault/internal/logging"
	"github.com/dmitrijs2005/rewardvault/internal/server/config"
	"github.com/dmitrijs2005/rewardvault/internal/server/httpapi"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/rewardvault/internal/server/services"
	"github.com/dmitrijs2005/rewardvault/internal/server/vault"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	handler http.Handler
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	m := repomanager.NewPostgresRepositoryManager()
	if err := m.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	machine := vault.NewMachine(vault.DefaultPolicy())
	coordinator := services.NewCoordinator(db, m, cfg, logger)
	identity := services.NewIdentityResolver(m, logger)
	vaults := services.NewVaultService(db, m, machine, coordinator, cfg, logger)
	resolver := services.NewTargetResolver(db, m, cfg, logger)
	expiry := services.NewExpiryService(db, m, logger)
	notify := services.NewNotifyService(db, m, logger)
	jobs := services.NewJobProcessor(db, m, coordinator, resolver, vaults, expiry, notify, cfg, logger)
	store := blobstore.New(blobstore.Config{
		Region:       cfg.S3Region,
		RootUser:     cfg.S3RootUser,
		RootPassword: cfg.S3RootPassword,
		Bucket:       cfg.S3Bucket,
		BaseEndpoint: cfg.S3BaseEndpoint,
	})
	imports := services.NewImportService(db, m, identity, vaults, coordinator, store, cfg, logger)
	admin := services.NewAdminService(db, m, identity, cfg, logger)
	segments := services.NewSegmentService(db, m, logger)

	handlers := httpapi.NewHandlers(cfg, logger, admin, vaults, jobs, resolver, segments, expiry, notify, imports)

	return &App{
		config:  cfg,
		logger:  logger,
		db:      db,
		handler: handlers.NewRouter(),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:    app.config.EndpointAddrHTTP,
		Handler: app.handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "http shutdown error", "error", err)
		}
	}()

	app.logger.Info(ctx, "http server listening", "addr", app.config.EndpointAddrHTTP)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "http server error", "error", err)
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "starting app")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
}
