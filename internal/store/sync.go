package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	apperrors "github.com/gmsas95/vitalwatch/internal/errors"
	"github.com/gmsas95/vitalwatch/internal/vitals"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Sync is the remote document store holding the durable copy of the log,
// registered devices and reminders.
type Sync struct {
	db *gorm.DB
}

var _ vitals.Syncer = (*Sync)(nil)

// OpenSync connects to driver ("sqlite" or "postgres") at dsn and migrates
func OpenSync(driver, dsn string) (*Sync, error) {
	gcfg := &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "sqlite", "":
		db, err = openSQLite(dsn, gcfg)
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gcfg)
	default:
		return nil, fmt.Errorf("unsupported sync driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}

	return NewSync(db)
}

func openSQLite(path string, gcfg *gorm.Config) (*gorm.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// every :memory: connection is a separate database
	if path == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return gorm.Open(sqlite.Dialector{Conn: sqlDB}, gcfg)
}

// NewSync wraps an open gorm handle and migrates the schema
func NewSync(db *gorm.DB) (*Sync, error) {
	if err := db.AutoMigrate(
		&VitalRecord{},
		&AlertRecord{},
		&Device{},
		&Reminder{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &Sync{db: db}, nil
}

// DB returns the GORM database instance
func (s *Sync) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool
func (s *Sync) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ==================== Vitals & Alerts ====================

// PushVitals upserts a sample. Re-pushing the same id is a no-op.
func (s *Sync) PushVitals(ctx context.Context, v *vitals.VitalSigns) error {
	rec := toVitalRecord(v)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
}

// PushAlerts inserts alerts that are not yet present
func (s *Sync) PushAlerts(ctx context.Context, alerts []vitals.HealthAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	recs := make([]AlertRecord, len(alerts))
	for i := range alerts {
		recs[i] = toAlertRecord(&alerts[i])
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&recs).Error
}

// MarkAcknowledged mirrors an acknowledgement
func (s *Sync) MarkAcknowledged(ctx context.Context, alertID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&AlertRecord{}).
		Where("id = ?", alertID).
		Updates(map[string]interface{}{
			"acknowledged":    true,
			"acknowledged_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrAlertNotFound
	}
	return nil
}

// PullVitals returns every synced sample of the user, oldest first
func (s *Sync) PullVitals(ctx context.Context, userID string) ([]vitals.VitalSigns, error) {
	var recs []VitalRecord
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]vitals.VitalSigns, len(recs))
	for i := range recs {
		out[i] = recs[i].toVitals()
	}
	return out, nil
}

// PullAlerts returns every synced alert of the user, oldest first
func (s *Sync) PullAlerts(ctx context.Context, userID string) ([]vitals.HealthAlert, error) {
	var recs []AlertRecord
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]vitals.HealthAlert, len(recs))
	for i := range recs {
		out[i] = recs[i].toAlert()
	}
	return out, nil
}

// ==================== Devices ====================

// RegisterDevice creates a device or re-enables it when the token is known
func (s *Sync) RegisterDevice(ctx context.Context, d *Device) error {
	switch d.Platform {
	case "", "android", "ios":
	default:
		return apperrors.Because(apperrors.ErrUnknownPlatform, "%q", d.Platform)
	}
	d.Enabled = true
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform", "endpoint_arn", "enabled", "updated_at"}),
		}).
		Create(d).Error; err != nil {
		return err
	}
	// on conflict the generated id was discarded
	var stored Device
	if err := s.db.WithContext(ctx).Where("token = ?", d.Token).First(&stored).Error; err != nil {
		return err
	}
	*d = stored
	return nil
}

// ListDevices returns the user's enabled devices
func (s *Sync) ListDevices(ctx context.Context, userID string) ([]Device, error) {
	var devices []Device
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND enabled = ?", userID, true).
		Order("created_at ASC").
		Find(&devices).Error
	return devices, err
}

// UpdateDevice saves device changes, e.g. a freshly created SNS endpoint
func (s *Sync) UpdateDevice(ctx context.Context, d *Device) error {
	return s.db.WithContext(ctx).Save(d).Error
}

// DisableDevice stops delivery to a token the provider reported as invalid
func (s *Sync) DisableDevice(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Model(&Device{}).
		Where("token = ?", token).
		Update("enabled", false).Error
}

// ==================== Reminders ====================

// CreateReminder stores a new reminder
func (s *Sync) CreateReminder(ctx context.Context, r *Reminder) error {
	return s.db.WithContext(ctx).Create(r).Error
}

// ListReminders returns the user's reminders ordered by due time
func (s *Sync) ListReminders(ctx context.Context, userID string) ([]Reminder, error) {
	var reminders []Reminder
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("due_at ASC").
		Find(&reminders).Error
	return reminders, err
}

// GetReminder retrieves one reminder of the user
func (s *Sync) GetReminder(ctx context.Context, userID, id string) (*Reminder, error) {
	var r Reminder
	err := s.db.WithContext(ctx).First(&r, "id = ? AND user_id = ?", id, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrReminderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteReminder removes a reminder of the user
func (s *Sync) DeleteReminder(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&Reminder{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrReminderNotFound
	}
	return nil
}

// DueReminders returns enabled reminders whose due time has passed
func (s *Sync) DueReminders(ctx context.Context, now time.Time) ([]Reminder, error) {
	var reminders []Reminder
	err := s.db.WithContext(ctx).
		Where("enabled = ? AND due_at <= ?", true, now).
		Order("due_at ASC").
		Find(&reminders).Error
	return reminders, err
}

// SaveReminder persists reminder changes
func (s *Sync) SaveReminder(ctx context.Context, r *Reminder) error {
	return s.db.WithContext(ctx).Save(r).Error
}
