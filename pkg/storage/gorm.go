package storage

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is a single persisted key-value row.
type Record struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (Record) TableName() string { return "kv_records" }

// GormBackend persists key-value pairs through a gorm-managed database.
type GormBackend struct {
	db *gorm.DB
}

func NewGormBackend(db *gorm.DB) (*GormBackend, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &GormBackend{db: db}, nil
}

func (b *GormBackend) Get(key string) (string, error) {
	var record Record
	if err := b.db.Where("key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return record.Value, nil
}

func (b *GormBackend) Set(key, value string) error {
	record := Record{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return b.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&record).Error
}

func (b *GormBackend) Remove(key string) error {
	return b.db.Where("key = ?", key).Delete(&Record{}).Error
}

func (b *GormBackend) Keys() ([]string, error) {
	var keys []string
	if err := b.db.Model(&Record{}).Order("key").Pluck("key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}
