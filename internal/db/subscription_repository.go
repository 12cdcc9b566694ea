package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wuwenbin0122/lumina/internal/models"
	"github.com/wuwenbin0122/lumina/internal/store"
)

type subscriptionRow struct {
	UserID    string     `gorm:"column:user_id;primaryKey"`
	Plan      string     `gorm:"column:plan;not null;default:''"`
	Status    string     `gorm:"column:status;not null"`
	ExpiresAt *time.Time `gorm:"column:expires_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (subscriptionRow) TableName() string {
	return "subscriptions"
}

// SubscriptionRepository persists one subscription row per user.
type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	var row subscriptionRow
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query subscription: %w", err)
	}

	return &models.Subscription{
		UserID:    row.UserID,
		Plan:      row.Plan,
		Status:    models.SubscriptionStatus(row.Status),
		ExpiresAt: row.ExpiresAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// SaveSubscription upserts the row keyed by user id.
func (r *SubscriptionRepository) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub == nil || sub.UserID == "" {
		return store.ErrUserIDRequired
	}

	row := subscriptionRow{
		UserID:    sub.UserID,
		Plan:      sub.Plan,
		Status:    string(sub.Status),
		ExpiresAt: sub.ExpiresAt,
		UpdatedAt: sub.UpdatedAt,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"plan", "status", "expires_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}

	sub.UpdatedAt = row.UpdatedAt
	return nil
}
