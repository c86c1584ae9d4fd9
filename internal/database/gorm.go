package database

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"waba-gateway/internal/config"
	"waba-gateway/internal/models"
	"waba-gateway/pkg/logx"
)

// Connect opens the postgres connection and runs migrations.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	logx.L().Info("connected to postgres")

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the gateway tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Template{},
		&models.Message{},
		&models.Conversation{},
		&models.Campaign{},
	)
}
