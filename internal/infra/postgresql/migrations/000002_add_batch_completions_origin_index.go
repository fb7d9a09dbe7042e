package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addBatchCompletionsOriginIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_add_batch_completions_origin_index",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_batch_completions_origin_completed ON batch_completions (origin, completed_at DESC)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`DROP INDEX IF EXISTS idx_batch_completions_origin_completed`).Error
		},
	}
}
