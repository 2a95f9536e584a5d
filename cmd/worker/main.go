// The worker binary drains the compensation queue: deferred side effects such
// as failed archive uploads are retried here until they succeed or exhaust
// their retry budget.
package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/rewardvault/internal/blobstore"
	"github.com/dmitrijs2005/rewardvault/internal/logging"
	"github.com/dmitrijs2005/rewardvault/internal/server/config"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/rewardvault/internal/worker"
)

func main() {

	cfg := config.LoadConfig()
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		log.Printf("db init error: %v", err)
		return
	}
	defer db.Close()

	store := blobstore.New(blobstore.Config{
		Region:       cfg.S3Region,
		RootUser:     cfg.S3RootUser,
		RootPassword: cfg.S3RootPassword,
		Bucket:       cfg.S3Bucket,
		BaseEndpoint: cfg.S3BaseEndpoint,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sigs
		cancel()
	}()

	w := worker.New(db, repomanager.NewPostgresRepositoryManager(), store, cfg.WorkerPollInterval, logger)
	w.Run(ctx)

}
