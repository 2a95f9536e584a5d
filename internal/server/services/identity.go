package services

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/dbx"
	"github.com/dmitrijs2005/rewardvault/internal/logging"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/repomanager"
)

// IdentityResolver maps external user references (what users type at login,
// what daily imports carry) to internal numeric ids. Internal ids are the only
// thing the vault tables key on.
type IdentityResolver struct {
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewIdentityResolver(m repomanager.RepositoryManager, logger logging.Logger) *IdentityResolver {
	return &IdentityResolver{repomanager: m, logger: logger}
}

// Resolve finds the identity for an external user id, optionally creating the
// mapping when it does not exist yet. Creation is race-safe: concurrent
// resolvers of the same external id converge on one row.
func (s *IdentityResolver) Resolve(ctx context.Context, db dbx.DBTX, externalID string, createIfMissing bool) (*models.UserIdentity, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, common.Validationf("external user id is required")
	}

	repo := s.repomanager.Identities(db)
	identity, err := repo.GetByExternalID(ctx, externalID)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}
	if !createIfMissing {
		return nil, common.ErrorNotFound
	}
	return repo.Create(ctx, externalID, "")
}

// ResolveLogin finds the identity a user logs in with: the external id first,
// the nickname as a fallback. Unknown users are rejected with a code telling
// operators the daily import has not delivered this user yet.
func (s *IdentityResolver) ResolveLogin(ctx context.Context, db dbx.DBTX, ref string) (*models.UserIdentity, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, common.Validationf("user reference is required")
	}

	repo := s.repomanager.Identities(db)
	identity, err := repo.GetByExternalID(ctx, ref)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	identity, err = repo.GetByNickname(ctx, ref)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}
	return nil, common.New(common.KindUnauthorized, common.CodeCSVUploadRequired,
		"user is not known yet; wait for the next data import")
}
