package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"portal-voting-backend/config"
	"portal-voting-backend/models"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database handle.
var DB *gorm.DB

// InitDB opens the MySQL connection described by the environment and runs
// the schema migration.
func InitDB() error {
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	dbUser := config.GetEnv("DB_USER", "portaluser")
	dbPassword := config.GetEnv("DB_PASSWORD", "portalpassword")
	dbHost := config.GetEnv("DB_HOST", "mysql")
	dbPort := config.GetEnv("DB_PORT", "3306")
	dbName := config.GetEnv("DB_NAME", "portaldb")

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		dbUser, dbPassword, dbHost, dbPort, dbName)

	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(DB); err != nil {
		return fmt.Errorf("failed to migrate models: %w", err)
	}

	log.Println("Database connected and migrated")
	return nil
}

// Migrate creates or updates the schema for all models, including the
// composite unique index on votes that backs the one-vote-per-question rule.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Member{},
		&models.Poll{},
		&models.SubPoll{},
		&models.Vote{},
		&models.PollAttachment{},
	)
}

// CloseDB closes the underlying connection pool.
func CloseDB() {
	if DB == nil {
		return
	}
	sqlDB, err := DB.DB()
	if err != nil {
		log.Printf("Failed to get database connection: %v", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Printf("Failed to close database connection: %v", err)
		return
	}
	log.Println("Database connection closed")
}
