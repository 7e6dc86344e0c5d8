package store

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store bundles the persistence layer. All pipeline components receive it
// through the application container, never through package globals.
type Store struct {
	db *gorm.DB

	Jobs       *JobStore
	Usage      *UsageStore
	Vocabulary *VocabularyStore
	Accuracy   *AccuracyStore
}

// New opens the database selected by driver ("sqlite" or "postgres") and
// migrates the schema.
func New(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}

	if err := db.AutoMigrate(
		&JobRow{},
		&UsageCounterRow{},
		&OrganizationLimitRow{},
		&VocabularyTermRow{},
		&CorrectionRow{},
		&SuggestionRow{},
		&AccuracyMetricRow{},
		&AccuracyReportRow{},
	); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	log.Debug().Str("driver", driver).Msg("datastore ready")

	return &Store{
		db:         db,
		Jobs:       &JobStore{db: db},
		Usage:      &UsageStore{db: db},
		Vocabulary: &VocabularyStore{db: db},
		Accuracy:   &AccuracyStore{db: db},
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
