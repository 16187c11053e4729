package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"promptctl/internal/domain"
)

// slotModel is one row of the storage_slots table.
type slotModel struct {
	Name      string    `gorm:"primaryKey;size:128"`
	Value     []byte    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (slotModel) TableName() string { return "storage_slots" }

// SQLStorage keeps slots as rows of a sqlite table.
type SQLStorage struct {
	db *gorm.DB
}

// Compile-time assertion that SQLStorage implements domain.Storage.
var _ domain.Storage = (*SQLStorage)(nil)

// OpenSQLStorage opens (creating if needed) the sqlite database at dsn and
// migrates the slot table. ":memory:" gives a throwaway database.
func OpenSQLStorage(dsn string) (*SQLStorage, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, &domain.StorageError{Op: "open", Slot: dsn, Err: err}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, &domain.StorageError{Op: "open", Slot: dsn, Err: err}
	}
	// One connection: sqlite serialises writers anyway, and an in-memory
	// database exists per connection.
	sqlDB.SetMaxOpenConns(1)

	return NewSQLStorage(db)
}

// NewSQLStorage wraps an existing gorm handle and migrates the slot table.
func NewSQLStorage(db *gorm.DB) (*SQLStorage, error) {
	if err := db.AutoMigrate(&slotModel{}); err != nil {
		return nil, &domain.StorageError{Op: "migrate", Slot: slotModel{}.TableName(), Err: err}
	}
	return &SQLStorage{db: db}, nil
}

// GetItem returns the slot's value.
func (s *SQLStorage) GetItem(ctx context.Context, name string) ([]byte, bool, error) {
	var m slotModel
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &domain.StorageError{Op: "get", Slot: name, Err: err}
	}
	return m.Value, true, nil
}

// SetItem upserts the slot's value.
func (s *SQLStorage) SetItem(ctx context.Context, name string, value []byte) error {
	if name == "" {
		return &domain.StorageError{Op: "set", Slot: name, Err: fmt.Errorf("empty slot name")}
	}
	m := slotModel{Name: name, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return &domain.StorageError{Op: "set", Slot: name, Err: err}
	}
	return nil
}

// RemoveItem deletes the slot; a missing slot is not an error.
func (s *SQLStorage) RemoveItem(ctx context.Context, name string) error {
	if err := s.db.WithContext(ctx).Where("name = ?", name).Delete(&slotModel{}).Error; err != nil {
		return &domain.StorageError{Op: "remove", Slot: name, Err: err}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
