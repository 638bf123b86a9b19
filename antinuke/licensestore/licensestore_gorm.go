package licensestore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrating license table: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, key string) (*Record, error) {
	if key == "" {
		return nil, ErrKeyNotFound
	}
	var rec Record
	err := s.db.WithContext(ctx).Where(&Record{Key: key}).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) Put(ctx context.Context, rec *Record) error {
	return s.db.WithContext(ctx).Save(rec).Error
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&Record{Key: key}).Error
}

func (s *GormStore) List(ctx context.Context) ([]Record, error) {
	var out []Record
	if err := s.db.WithContext(ctx).Order("issued_at").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ByTenant(ctx context.Context, tenantID string) ([]Record, error) {
	var out []Record
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("issued_at").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
