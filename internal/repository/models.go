package repository

import (
	"time"

	"github.com/kursadbilgin/batch-coordinator/internal/domain"
)

// CompletionModel is the persistence model for the batch_completions table.
type CompletionModel struct {
	ID                string               `gorm:"type:uuid;primaryKey"`
	BatchID           string               `gorm:"type:varchar(255);not null"`
	Reason            domain.TriggerReason `gorm:"type:varchar(20);not null"`
	ExpectedCount     int                  `gorm:"not null"`
	CompletedCount    int                  `gorm:"not null"`
	SuccessCount      int                  `gorm:"not null"`
	FailureCount      int                  `gorm:"not null"`
	GroupsNotified    int                  `gorm:"not null;default:0"`
	GroupsFailed      int                  `gorm:"not null;default:0"`
	ActionsDispatched int                  `gorm:"not null;default:0"`
	ElapsedMs         int64                `gorm:"not null"`
	Origin            string               `gorm:"type:varchar(255);not null"`
	InitiatedBy       string               `gorm:"type:varchar(255);not null"`
	CompletedAt       time.Time            `gorm:"type:timestamptz;not null"`
	CreatedAt         time.Time
}

func (CompletionModel) TableName() string {
	return "batch_completions"
}

func completionModelFromDomain(id string, s *domain.CompletionSummary) *CompletionModel {
	if s == nil {
		return nil
	}

	return &CompletionModel{
		ID:                id,
		BatchID:           s.BatchID,
		Reason:            s.Reason,
		ExpectedCount:     s.ExpectedCount,
		CompletedCount:    s.CompletedCount,
		SuccessCount:      s.SuccessCount,
		FailureCount:      s.FailureCount,
		GroupsNotified:    s.GroupsNotified,
		GroupsFailed:      s.GroupsFailed,
		ActionsDispatched: s.ActionsDispatched,
		ElapsedMs:         s.Elapsed.Milliseconds(),
		Origin:            s.Origin,
		InitiatedBy:       s.InitiatedBy,
		CompletedAt:       s.CompletedAt,
	}
}

func completionModelToDomain(m *CompletionModel) domain.CompletionSummary {
	return domain.CompletionSummary{
		BatchID:           m.BatchID,
		Reason:            m.Reason,
		ExpectedCount:     m.ExpectedCount,
		CompletedCount:    m.CompletedCount,
		SuccessCount:      m.SuccessCount,
		FailureCount:      m.FailureCount,
		GroupsNotified:    m.GroupsNotified,
		GroupsFailed:      m.GroupsFailed,
		ActionsDispatched: m.ActionsDispatched,
		Elapsed:           time.Duration(m.ElapsedMs) * time.Millisecond,
		Origin:            m.Origin,
		InitiatedBy:       m.InitiatedBy,
		CompletedAt:       m.CompletedAt,
	}
}
