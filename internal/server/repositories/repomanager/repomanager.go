package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/rewardvault/internal/dbx"
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
)

// RepositoryManager vends repositories bound to a plain connection or to a
// transaction handle, so services can compose several repositories inside one
// unit of work.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Identities(db dbx.DBTX) identities.Repository
	Vaults(db dbx.DBTX) vaults.Repository
	Idempotency(db dbx.DBTX) idempotency.Repository
	Jobs(db dbx.DBTX) jobs.Repository
	Segments(db dbx.DBTX) segments.Repository
	Audit(db dbx.DBTX) audit.Repository
	Extensions(db dbx.DBTX) extensions.Repository
	Notifications(db dbx.DBTX) notifications.Repository
	Compensations(db dbx.DBTX) compensations.Repository
	Snapshots(db dbx.DBTX) snapshots.Repository
}
