package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/batch-coordinator/internal/repository"
	"gorm.io/gorm"
)

func createBatchCompletionsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_batch_completions",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CompletionModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_batch_completions_completed_at ON batch_completions (completed_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_batch_completions_batch_id ON batch_completions (batch_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CompletionModel{})
		},
	}
}
