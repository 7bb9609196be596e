// Package journal persists every settlement transfer the vault attempts so
// operators can audit and export payouts.
package journal

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stakevault/native/vault"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Record is the persisted form of a vault.Attempt. Amounts are decimal
// strings so the column survives values beyond 64 bits.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	User       string    `gorm:"column:user_address;size:64;index"`
	Bucket     string    `gorm:"size:16;index"`
	Asset      string    `gorm:"size:64"`
	Recipient  string    `gorm:"size:64"`
	Amount     string    `gorm:"size:80;not null"`
	Memo       string    `gorm:"size:64;index"`
	Nonce      uint64
	Receipt    uint64
	Status     string    `gorm:"size:16;index"`
	Error      string    `gorm:"size:512"`
	AttemptAt  time.Time `gorm:"index"`
	DurationMS int64
	CreatedAt  time.Time
}

// TableName pins the table name independent of gorm's pluralisation.
func (Record) TableName() string { return "settlement_attempts" }

// Journal writes attempts through gorm.
type Journal struct {
	db *gorm.DB
}

// Open connects to driver using dsn and migrates the schema.
func Open(driver, dsn string) (*Journal, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing connection.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: database required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record implements vault.Journal.
func (j *Journal) Record(ctx context.Context, attempt vault.Attempt) error {
	row := FromAttempt(attempt)
	if err := j.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	return nil
}

// List returns attempts made at or after since, oldest first. A zero since
// returns everything.
func (j *Journal) List(ctx context.Context, since time.Time) ([]Record, error) {
	query := j.db.WithContext(ctx).Model(&Record{})
	if !since.IsZero() {
		query = query.Where("attempt_at >= ?", since.UTC())
	}
	var rows []Record
	if err := query.Order("attempt_at asc, nonce asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return rows, nil
}

// ForUser returns the attempts recorded for user.
func (j *Journal) ForUser(ctx context.Context, user string) ([]Record, error) {
	var rows []Record
	err := j.db.WithContext(ctx).
		Where("user_address = ?", user).
		Order("attempt_at asc, nonce asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("journal: list user: %w", err)
	}
	return rows, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// FromAttempt converts an engine attempt into a row.
func FromAttempt(a vault.Attempt) Record {
	amount := "0"
	if a.Amount != nil {
		amount = a.Amount.String()
	}
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	return Record{
		ID:         uuid.New(),
		User:       a.User.String(),
		Bucket:     a.Bucket.String(),
		Asset:      a.Asset.String(),
		Recipient:  a.Recipient.String(),
		Amount:     amount,
		Memo:       hex.EncodeToString(a.Memo),
		Nonce:      a.Nonce,
		Receipt:    uint64(a.Receipt),
		Status:     string(a.Status),
		Error:      truncate(a.Error, 512),
		AttemptAt:  at.UTC(),
		DurationMS: a.Duration.Milliseconds(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
