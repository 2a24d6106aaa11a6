// Package collector is the server side of the pipeline: it receives event
// payloads from edge devices, stores them and serves query, analytics and
// live-feed endpoints over them.
package collector

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound  = errors.New("event not found")
	ErrDuplicate = errors.New("event already stored")
)

// Event is the stored form of an edge event payload
type Event struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	DeviceID   string    `gorm:"size:64;index" json:"device_id"`
	OccurredAt time.Time `gorm:"index" json:"timestamp"`

	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Altitude    float64 `json:"altitude"`
	Heading     float64 `json:"heading"`
	TerrainType string  `gorm:"size:32" json:"terrain_type"`
	LandUse     string  `gorm:"size:64" json:"land_use"`

	NumPeople          int            `json:"num_people"`
	ViolenceType       string         `json:"violence_type"`
	WeaponsPresent     bool           `json:"weapons_present"`
	WeaponTypes        datatypes.JSON `json:"weapon_types"`
	RiskLevel          string         `gorm:"size:16;index" json:"risk_level"`
	TerrainContext     string         `json:"terrain_context"`
	RecommendedActions datatypes.JSON `json:"recommended_actions"`
	AnalysisError      string         `json:"analysis_error,omitempty"`

	SeverityScore float64 `json:"severity_score"`
	ZoneRiskLevel string  `gorm:"size:16" json:"zone_risk_level"`

	ImagePath string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows List results. Zero values mean unbounded.
type Filter struct {
	Start     time.Time
	End       time.Time
	RiskLevel string
	Skip      int
	Limit     int
}

// DefaultLimit caps List when Filter.Limit is unset
const DefaultLimit = 100

type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// IsPostgresDSN reports whether dsn addresses PostgreSQL rather than a
// SQLite file.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// Open connects to PostgreSQL or SQLite depending on dsn and migrates the
// events table.
func Open(dsn string, log zerolog.Logger) (*Store, error) {
	var (
		db  *gorm.DB
		err error
	)
	if IsPostgresDSN(dsn) {
		db, err = openPostgres(dsn)
	} else {
		db, err = openSqlite(dsn)
	}
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("failed to migrate events table: %w", err)
	}

	log.Info().Str("dialect", db.Dialector.Name()).Msg("Event store ready")
	return &Store{db: db, logger: log}, nil
}

func openPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

func openSqlite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}
	return db, nil
}

// Create inserts e. Re-delivery of an already stored id returns ErrDuplicate.
func (s *Store) Create(e *Event) error {
	e.OccurredAt = e.OccurredAt.UTC()
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(e)
	if res.Error != nil {
		return fmt.Errorf("failed to insert event %s: %w", e.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		s.logger.Debug().Str("event_id", e.ID).Msg("Event already stored")
		return ErrDuplicate
	}
	return nil
}

func (s *Store) Get(id string) (*Event, error) {
	var e Event
	err := s.db.Where("id = ?", id).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns events newest first
func (s *Store) List(f Filter) ([]Event, error) {
	q := s.db.Model(&Event{})
	if !f.Start.IsZero() {
		q = q.Where("occurred_at >= ?", f.Start.UTC())
	}
	if !f.End.IsZero() {
		q = q.Where("occurred_at <= ?", f.End.UTC())
	}
	if f.RiskLevel != "" {
		q = q.Where("risk_level = ?", f.RiskLevel)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var events []Event
	err := q.Order("occurred_at DESC").Offset(f.Skip).Limit(limit).Find(&events).Error
	return events, err
}

// Since returns every event at or after t, newest first
func (s *Store) Since(t time.Time) ([]Event, error) {
	var events []Event
	err := s.db.Where("occurred_at >= ?", t.UTC()).Order("occurred_at DESC").Find(&events).Error
	return events, err
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
