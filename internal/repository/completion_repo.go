package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kursadbilgin/batch-coordinator/internal/domain"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type CompletionRepository interface {
	Create(ctx context.Context, summary *domain.CompletionSummary) error
	ListRecent(ctx context.Context, limit int) ([]domain.CompletionSummary, error)
}

// GormCompletionRepo persists completion summaries. It doubles as an audit
// sink for the completion trigger.
type GormCompletionRepo struct {
	db *gorm.DB
}

func NewGormCompletionRepo(db *gorm.DB) *GormCompletionRepo {
	return &GormCompletionRepo{db: db}
}

func (r *GormCompletionRepo) Create(ctx context.Context, summary *domain.CompletionSummary) error {
	if summary == nil {
		return fmt.Errorf("%w: completion summary is required", domain.ErrValidation)
	}
	model := completionModelFromDomain(uuid.NewString(), summary)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to insert completion for batch %s: %w", summary.BatchID, err)
	}
	return nil
}

func (r *GormCompletionRepo) RecordCompletion(ctx context.Context, summary domain.CompletionSummary) error {
	return r.Create(ctx, &summary)
}

// ListRecent returns the newest summaries first.
func (r *GormCompletionRepo) ListRecent(ctx context.Context, limit int) ([]domain.CompletionSummary, error) {
	limit = NormalizeListLimit(limit)

	var models []CompletionModel
	err := r.db.WithContext(ctx).
		Order("completed_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}

	summaries := make([]domain.CompletionSummary, 0, len(models))
	for i := range models {
		summaries = append(summaries, completionModelToDomain(&models[i]))
	}
	return summaries, nil
}

func NormalizeListLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
