// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/rewardvault/internal/dbx"
	"github.com/dmitrijs2005/rewardvault/internal/server/migrations"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/audit"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/compensations"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/extensions"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/idempotency"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/identities"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/jobs"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/notifications"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/segments"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/snapshots"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/vaults"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

func NewPostgresRepositoryManager() RepositoryManager {
	return &PostgresRepositoryManager{}
}

func (m *PostgresRepositoryManager) Identities(db dbx.DBTX) identities.Repository {
	return identities.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Vaults(db dbx.DBTX) vaults.Repository {
	return vaults.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Idempotency(db dbx.DBTX) idempotency.Repository {
	return idempotency.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Jobs(db dbx.DBTX) jobs.Repository {
	return jobs.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Segments(db dbx.DBTX) segments.Repository {
	return segments.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Audit(db dbx.DBTX) audit.Repository {
	return audit.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Extensions(db dbx.DBTX) extensions.Repository {
	return extensions.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Notifications(db dbx.DBTX) notifications.Repository {
	return notifications.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Compensations(db dbx.DBTX) compensations.Repository {
	return compensations.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Snapshots(db dbx.DBTX) snapshots.Repository {
	return snapshots.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetDialect("pgx")
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}
