package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/speedwaystore/admin-push/internal/models"
)

// SubscriberRecord is a registry row. FCMToken is NULL until the subscriber
// registers a device.
type SubscriberRecord struct {
	ID        string  `gorm:"primaryKey"`
	Role      string  `gorm:"index"`
	FCMToken  *string `gorm:"column:fcm_token"`
	CreatedAt time.Time
}

// SubscriberStore is a Postgres-backed subscriber registry.
type SubscriberStore struct {
	db        *gorm.DB
	tableName string
}

func NewSubscriberStore(db *gorm.DB, tableName string) *SubscriberStore {
	if tableName == "" {
		tableName = "subscribers"
	}
	return &SubscriberStore{
		db:        db,
		tableName: tableName,
	}
}

// Migrate creates or updates the subscriber table.
func (s *SubscriberStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Table(s.tableName).AutoMigrate(&SubscriberRecord{}); err != nil {
		return fmt.Errorf("migrate %s: %w", s.tableName, err)
	}
	return nil
}

// SubscribersByRole returns subscribers with role in insertion order.
func (s *SubscriberStore) SubscribersByRole(ctx context.Context, role string) ([]models.Subscriber, error) {
	var rows []SubscriberRecord
	err := s.db.WithContext(ctx).Table(s.tableName).
		Select("id", "fcm_token", "created_at").
		Where("role = ?", role).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.tableName, err)
	}
	return toSubscribers(rows), nil
}

func toSubscribers(rows []SubscriberRecord) []models.Subscriber {
	subs := make([]models.Subscriber, 0, len(rows))
	for _, row := range rows {
		sub := models.Subscriber{ID: row.ID}
		if row.FCMToken != nil {
			sub.Address = *row.FCMToken
		}
		subs = append(subs, sub)
	}
	return subs
}
