package policy

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/codetesla51/entitylimit/limiter"
)

// EntityPolicy represents a row in the entity_policies table
type EntityPolicy struct {
	EntityID string `gorm:"primaryKey"`
	Limit    int    `gorm:"not null"`
	WindowMS int64  `gorm:"column:window_ms;not null"`
}

type DatabaseSource struct {
	db *gorm.DB
}

func NewDatabaseSource(dsn string) (*DatabaseSource, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ds := NewDatabaseSourceFromDB(db)
	if err := ds.Migrate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func NewDatabaseSourceFromDB(db *gorm.DB) *DatabaseSource {
	return &DatabaseSource{db: db}
}

// Migrate creates the entity_policies table if needed
func (ds *DatabaseSource) Migrate() error {
	if err := ds.db.AutoMigrate(&EntityPolicy{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (ds *DatabaseSource) Load(ctx context.Context) ([]Policy, error) {
	var rows []EntityPolicy
	if err := ds.db.WithContext(ctx).Order("entity_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}

	policies := make([]Policy, 0, len(rows))
	for _, row := range rows {
		policies = append(policies, Policy{
			ID:     row.EntityID,
			Limit:  row.Limit,
			Window: time.Duration(row.WindowMS) * time.Millisecond,
		})
	}
	return policies, nil
}

// Save upserts p. The window column has millisecond resolution, so windows
// with a sub-millisecond remainder are rejected.
func (ds *DatabaseSource) Save(ctx context.Context, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Window%time.Millisecond != 0 {
		return fmt.Errorf("policy %q window %s is not a whole number of milliseconds: %w", p.ID, p.Window, limiter.ErrInvalidConfiguration)
	}
	row := EntityPolicy{
		EntityID: p.ID,
		Limit:    p.Limit,
		WindowMS: p.Window.Milliseconds(),
	}
	return ds.db.WithContext(ctx).Save(&row).Error
}

// Close closes the database connection
func (ds *DatabaseSource) Close() error {
	sqlDB, err := ds.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
