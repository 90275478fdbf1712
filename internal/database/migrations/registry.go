package migrations

import (
	"github.com/jmylchreest/camstreamd/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns every schema migration in version order.
func AllMigrations() []Migration {
	return []Migration{
		migration001StreamRecords(),
	}
}

func migration001StreamRecords() Migration {
	return Migration{
		Version:     "001",
		Description: "Create stream_records",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.StreamRecord{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.StreamRecord{})
		},
	}
}
