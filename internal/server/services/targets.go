package services

import (
	"context"
	"database/sql"
	"sort"

	"github.com/dmitrijs2005/rewardvault/internal/common"
	"github.com/dmitrijs2005/rewardvault/internal/dbx"
	"github.com/dmitrijs2005/rewardvault/internal/logging"
	"github.com/dmitrijs2005/rewardvault/internal/server/config"
	"github.com/dmitrijs2005/rewardvault/internal/server/models"
	"github.com/dmitrijs2005/rewardvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/rewardvault/internal/server/targets"
)

// previewSampleSize caps how many ids a dry-run preview returns.
const previewSampleSize = 10

// TargetResolver expands a target specification (explicit ids, saved segment
// or ad-hoc filter) into a concrete, bounded, deduplicated list of user ids.
// Fully claimed users are always excluded: no bulk operation can act on them.
type TargetResolver struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	maxTargets  int
}

func NewTargetResolver(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *TargetResolver {
	return &TargetResolver{db: db, repomanager: m, logger: logger, maxTargets: cfg.MaxBulkTargets}
}

// Resolve expands the spec inside the given transaction (or connection).
func (s *TargetResolver) Resolve(ctx context.Context, db dbx.DBTX, spec *targets.Spec) ([]int64, error) {
	if spec == nil {
		return nil, common.ErrInvalidTarget
	}
	switch spec.Mode {
	case targets.ModeUserIDs:
		return s.resolveExplicit(spec.UserIDs)
	case targets.ModeSegment:
		return s.resolveSegment(ctx, db, spec.SegmentID)
	case targets.ModeFilter:
		return s.resolveFilter(ctx, db, spec.Filter)
	default:
		return nil, common.ErrInvalidTarget
	}
}

// resolveExplicit validates, deduplicates and sorts an explicit id list. The
// ids are trusted to exist; per-item processing reports unknown ids as item
// failures rather than rejecting the whole batch.
func (s *TargetResolver) resolveExplicit(ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, common.Validationf("user_ids mode requires at least one id")
	}
	if len(ids) > s.maxTargets {
		return nil, common.Validationf("too many explicit targets: %d (max %d)", len(ids), s.maxTargets)
	}
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, common.Validationf("invalid user id %d", id)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *TargetResolver) resolveSegment(ctx context.Context, db dbx.DBTX, segmentID string) ([]int64, error) {
	if segmentID == "" {
		return nil, common.Validationf("segment mode requires a segment_id")
	}
	seg, err := s.repomanager.Segments(db).Get(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	fs, err := targets.ParseFilterSet(seg.Filters)
	if err != nil {
		return nil, err
	}
	return s.selectByPredicates(ctx, db, fs.Predicates())
}

func (s *TargetResolver) resolveFilter(ctx context.Context, db dbx.DBTX, f *targets.Filter) ([]int64, error) {
	if f == nil || (f.Query == "" && f.GoldStatus == nil) {
		return nil, common.Validationf("filter mode requires a query or a gold_status")
	}
	var preds []targets.Predicate
	if f.Query != "" {
		preds = append(preds, targets.Substring{Query: f.Query})
	}
	if f.GoldStatus != nil {
		preds = append(preds, targets.StatusIn{
			Tier:     models.TierGold,
			Statuses: []models.TierStatus{*f.GoldStatus},
		})
	}
	return s.selectByPredicates(ctx, db, preds)
}

func (s *TargetResolver) selectByPredicates(ctx context.Context, db dbx.DBTX, preds []targets.Predicate) ([]int64, error) {
	where, args, err := targets.Translate(preds)
	if err != nil {
		return nil, err
	}
	ids, err := s.repomanager.Vaults(db).SelectTargetIDs(ctx, where, args, s.maxTargets)
	if err != nil {
		return nil, dbx.ClassifyStoreError(err)
	}
	return ids, nil
}

// PreviewResponse is the dry-run expansion of a target spec.
type PreviewResponse struct {
	Count     int     `json:"count"`
	SampleIDs []int64 `json:"sample_ids"`
}

// Preview expands the spec without side effects and returns the match count
// plus a small id sample, so operators can sanity-check a campaign before
// launching it.
func (s *TargetResolver) Preview(ctx context.Context, spec *targets.Spec) (*PreviewResponse, error) {
	ids, err := s.Resolve(ctx, s.db, spec)
	if err != nil {
		return nil, err
	}
	sample := ids
	if len(sample) > previewSampleSize {
		sample = sample[:previewSampleSize]
	}
	return &PreviewResponse{Count: len(ids), SampleIDs: sample}, nil
}
