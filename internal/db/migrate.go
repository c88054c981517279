package db

import (
	"fmt"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model used by the service.
func AllModels() []interface{} {
	return []interface{}{
		&models.ActiveSession{},
		&models.ArchivedSession{},
		&models.UnreachableChat{},
		&models.PlatformIdentity{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
