package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/shinyyama/goodjob-alarm/internal/config"
	"github.com/shinyyama/goodjob-alarm/internal/model"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func BuildDSN(cfg *config.Config) string {
	addr := cfg.DBHost

	// Prefer Cloud SQL unix socket when INSTANCE_CONNECTION_NAME is provided.
	if cfg.InstanceConnectionName != "" {
		addr = fmt.Sprintf("unix(/cloudsql/%s)", cfg.InstanceConnectionName)
	} else if strings.HasPrefix(cfg.DBHost, "tcp(") || strings.HasPrefix(cfg.DBHost, "unix(") {
		// already wrapped
	} else if strings.HasPrefix(cfg.DBHost, "/") {
		addr = fmt.Sprintf("unix(%s)", cfg.DBHost)
	} else {
		addr = fmt.Sprintf("tcp(%s:%s)", cfg.DBHost, cfg.DBPort)
	}

	return fmt.Sprintf("%s:%s@%s/%s?charset=utf8mb4&parseTime=True&loc=Local", cfg.DBUser, cfg.DBPassword, addr, cfg.DBName)
}

func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := BuildDSN(cfg)
	db, err := gorm.Open(mysql.Open(dsn), GormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)

	return db, nil
}

// GormConfig is shared with tests so that duplicate-key errors are translated the same way on every dialect.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}
}

// Migrate creates the notification tables and, for local setups, the read projections they are fed from.
func Migrate(db *gorm.DB, withProjections bool) error {
	if err := db.AutoMigrate(&model.Notification{}, &model.NotificationTarget{}); err != nil {
		return fmt.Errorf("migrate notifications: %w", err)
	}
	if !withProjections {
		return nil
	}
	if err := db.AutoMigrate(&model.Job{}, &model.Cv{}, &model.Application{}, &model.RecommendScore{}); err != nil {
		return fmt.Errorf("migrate projections: %w", err)
	}
	return nil
}
