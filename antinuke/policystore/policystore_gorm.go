package policystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// database row; the policy itself is stored as a JSON document so new settings don't need migrations
type PolicyRow struct {
	TenantID  string `gorm:"primaryKey"`
	Policy    string
	UpdatedAt time.Time
}

func (PolicyRow) TableName() string {
	return "tenant_policies"
}

// Policy store backed by a SQL database (sqlite or postgres) via gorm.
//
// Writes are serialized within the process by a mutex, and each update runs in its own transaction.
type GormStore struct {
	db *gorm.DB
	mu sync.Mutex
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&PolicyRow{}); err != nil {
		return nil, fmt.Errorf("migrating policy table: %w", err)
	}
	return &GormStore{db: db}, nil
}

func loadPolicy(tx *gorm.DB, tenantID string) (*TenantPolicy, error) {
	var row PolicyRow
	err := tx.Where("tenant_id = ?", tenantID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultPolicy(), nil
	}
	if err != nil {
		return nil, err
	}
	var p TenantPolicy
	if err := json.Unmarshal([]byte(row.Policy), &p); err != nil {
		return nil, fmt.Errorf("decoding stored policy for tenant %s: %w", tenantID, err)
	}
	p.normalize()
	return &p, nil
}

func (s *GormStore) Get(ctx context.Context, tenantID string) (*TenantPolicy, error) {
	return loadPolicy(s.db.WithContext(ctx), tenantID)
}

func (s *GormStore) Update(ctx context.Context, tenantID string, fn func(p *TenantPolicy) error) (*TenantPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out *TenantPolicy
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadPolicy(tx, tenantID)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		p.normalize()
		raw, err := json.Marshal(p)
		if err != nil {
			return err
		}
		row := PolicyRow{
			TenantID:  tenantID,
			Policy:    string(raw),
			UpdatedAt: time.Now().UTC(),
		}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) Tenants(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&PolicyRow{}).Order("tenant_id").Pluck("tenant_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
