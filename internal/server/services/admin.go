package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/dbx"
	"github.com/dmitrijs2005/rewardvault/internal/logging"
	"github.com/dmitrijs2005/rewardvault/internal/server/auth"
	"github.com/dmitrijs2005/rewardvault/internal/server/config"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/repomanager"
)

// adminSubjectID is the uid placed in admin tokens; the console has a single
// shared operator account.
const adminSubjectID = 0

// AdminService covers the operator-facing surface that is not a bulk job:
// logins, user directory and the audit trail.
type AdminService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	identity    *IdentityResolver
	config      *config.Config
	logger      logging.Logger
}

func NewAdminService(db *sql.DB, m repomanager.RepositoryManager, identity *IdentityResolver,
	cfg *config.Config, logger logging.Logger) *AdminService {
	return &AdminService{db: db, repomanager: m, identity: identity, config: cfg, logger: logger}
}

// LoginResponse carries an issued session token.
type LoginResponse struct {
	Token     string `json:"token"`
	Role      string `json:"role"`
	UserID    int64  `json:"user_id,omitempty"`
	ExpiresIn int64  `json:"expires_in"`
}

// AdminLogin checks the operator password against the configured bcrypt hash
// and issues an admin token.
func (s *AdminService) AdminLogin(ctx context.Context, password string) (*LoginResponse, error) {
	if s.config.AdminPasswordHash == "" {
		return nil, common.New(common.KindUnauthorized, common.CodeUnauthorized, "admin login is not configured")
	}
	if !auth.CheckPassword(s.config.AdminPasswordHash, password) {
		s.logger.Warn(ctx, "admin login rejected")
		return nil, common.ErrorUnauthorized
	}
	token, err := auth.GenerateToken(adminSubjectID, auth.RoleAdmin,
		[]byte(s.config.SecretKey), s.config.TokenValidityDuration)
	if err != nil {
		return nil, common.Wrap(common.KindInternal, common.CodeInternal, "token generation failed", err)
	}
	s.logger.Info(ctx, "admin logged in")
	return &LoginResponse{
		Token:     token,
		Role:      auth.RoleAdmin,
		ExpiresIn: int64(s.config.TokenValidityDuration / time.Second),
	}, nil
}

// UserLogin resolves the reference a visitor typed (external id or nickname)
// and issues a user token. There is no password: possession of the reference
// is the credential, matching the upstream account system.
func (s *AdminService) UserLogin(ctx context.Context, ref string) (*LoginResponse, error) {
	identity, err := s.identity.ResolveLogin(ctx, s.db, ref)
	if err != nil {
		return nil, err
	}
	token, err := auth.GenerateToken(identity.ID, auth.RoleUser,
		[]byte(s.config.SecretKey), s.config.TokenValidityDuration)
	if err != nil {
		return nil, common.Wrap(common.KindInternal, common.CodeInternal, "token generation failed", err)
	}
	return &LoginResponse{
		Token:     token,
		Role:      auth.RoleUser,
		UserID:    identity.ID,
		ExpiresIn: int64(s.config.TokenValidityDuration / time.Second),
	}, nil
}

// ListUsers pages through the user directory.
func (s *AdminService) ListUsers(ctx context.Context, offset, limit int) ([]*models.UserIdentity, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repomanager.Identities(s.db).List(ctx, offset, limit)
}

// GetUser returns one identity.
func (s *AdminService) GetUser(ctx context.Context, id int64) (*models.UserIdentity, error) {
	return s.repomanager.Identities(s.db).GetByID(ctx, id)
}

// DeleteUser removes an identity; the vault row and snapshot follow through
// foreign keys. The deletion and its audit entry commit together.
func (s *AdminService) DeleteUser(ctx context.Context, actor string, id int64) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Identities(tx).Delete(ctx, id); err != nil {
			return err
		}
		return s.repomanager.Audit(tx).Insert(ctx, &models.AuditEntry{
			AdminUser:     actor,
			Action:        "DELETE_USER",
			Endpoint:      "users.delete",
			TargetUserIDs: []int64{id},
			TargetCount:   1,
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "user deleted", "user_id", id, "actor", actor)
	return nil
}

// AuditLog pages through admin mutation records, newest first.
func (s *AdminService) AuditLog(ctx context.Context, offset, limit int) ([]*models.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repomanager.Audit(s.db).List(ctx, offset, limit)
}
