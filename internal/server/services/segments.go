package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/logging"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/rewardvault/internal/server/targets"
	"github.com/google/uuid"
)

// SegmentService manages saved target segments. Filters are validated on
// save: a segment that parses today still parses at campaign time.
type SegmentService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewSegmentService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger) *SegmentService {
	return &SegmentService{db: db, repomanager: m, logger: logger}
}

// Save creates or updates a segment by name. The filter set is parsed and
// lowered once to reject definitions that could never run.
func (s *SegmentService) Save(ctx context.Context, actor, name, description string, filters json.RawMessage) (*models.Segment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, common.Validationf("segment name is required")
	}
	fs, err := targets.ParseFilterSet(filters)
	if err != nil {
		return nil, err
	}
	if _, _, err := targets.Translate(fs.Predicates()); err != nil {
		return nil, err
	}

	seg, err := s.repomanager.Segments(s.db).Upsert(ctx, &models.Segment{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Filters:     filters,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "segment saved", "segment_id", seg.ID, "name", name, "actor", actor)
	return seg, nil
}

func (s *SegmentService) Get(ctx context.Context, id string) (*models.Segment, error) {
	return s.repomanager.Segments(s.db).Get(ctx, id)
}

func (s *SegmentService) List(ctx context.Context) ([]*models.Segment, error) {
	return s.repomanager.Segments(s.db).List(ctx)
}

func (s *SegmentService) Delete(ctx context.Context, actor, id string) error {
	if err := s.repomanager.Segments(s.db).Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info(ctx, "segment deleted", "segment_id", id, "actor", actor)
	return nil
}
