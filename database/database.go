package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sosband-backend/config"
	"sosband-backend/models"
	"sosband-backend/utils"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the application pool. Self-service paths run on it through a
// caller-scoped Gateway.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	return Open(cfg.DBType, cfg.DatabaseURL, cfg.DBMaxOpenConns)
}

// ConnectElevated opens the privileged pool used for admin paths and
// migrations. It shares Connect's DSN when ADMIN_DATABASE_URL is unset.
func ConnectElevated(cfg *config.Config) (*gorm.DB, error) {
	return Open(cfg.DBType, cfg.AdminDatabaseURL, cfg.DBMaxOpenConns)
}

// Open opens a gorm connection for dbType ("postgres" or "sqlite"). gorm's
// own reports go to the global zap logger.
func Open(dbType, dsn string, maxOpenConns int) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch dbType {
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger(zap.L()),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	if maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(maxOpenConns)
		sqlDB.SetMaxIdleConns((maxOpenConns + 1) / 2)
	}

	return db, nil
}

// gormLogger sends gorm's slow-query and error reports to zl at warn level.
// Record-not-found is an ordinary lookup outcome and is not reported.
func gormLogger(zl *zap.Logger) logger.Interface {
	std, err := zap.NewStdLogAt(zl.Named("gorm"), zap.WarnLevel)
	if err != nil {
		std = zap.NewStdLog(zl.Named("gorm"))
	}
	return logger.New(std, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Bracelet{},
		&models.SosProfile{},
		&models.CustomField{},
	)
}

// CreateDefaultAdmin bootstraps the first admin account when no user with
// the configured email exists. Without a configured password nothing is
// created.
func CreateDefaultAdmin(db *gorm.DB, cfg *config.Config, log *zap.Logger) error {
	if cfg.AdminPassword == "" {
		log.Warn("ADMIN_PASSWORD not set, skipping default admin creation")
		return nil
	}

	var existing models.User
	err := db.Where("email = ?", strings.ToLower(cfg.AdminEmail)).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hashed, err := utils.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}

	admin := models.User{
		Name:     cfg.AdminName,
		Email:    strings.ToLower(cfg.AdminEmail),
		Password: hashed,
		Role:     models.RoleAdmin,
	}
	if err := db.Create(&admin).Error; err != nil {
		return err
	}

	log.Info("default admin created", zap.String("email", admin.Email))
	return nil
}

var sampleFields = []models.CustomField{
	{Label: "Nome", Value: "João Silva", Order: 1},
	{Label: "Telefone", Value: "+351 912 345 678", Order: 2},
	{Label: "Condição Médica", Value: "Diabetes", Order: 3},
}

// SeedSampleBracelets creates the unassigned demo bracelets PUL001 and
// PUL002 with a few custom fields. Existing identifiers are left alone.
func SeedSampleBracelets(db *gorm.DB, log *zap.Logger) error {
	gw := NewGateway(db)
	for _, identifier := range []string{"PUL001", "PUL002"} {
		fields := make([]models.CustomField, len(sampleFields))
		copy(fields, sampleFields)

		b := models.Bracelet{Identifier: identifier}
		err := gw.CreateBracelet(context.Background(), &b, fields)
		if errors.Is(err, ErrDuplicate) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed %s: %w", identifier, err)
		}
		log.Info("sample bracelet created", zap.String("identificador", identifier))
	}
	return nil
}
