// Package subscription resolves a user's billing snapshot, creating the default
// trial on first observation.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/lumina/internal/models"
	"github.com/wuwenbin0122/lumina/internal/store"
	"github.com/wuwenbin0122/lumina/internal/utils"
)

const TrialPlan = "free"

// Repository returns store.ErrNotFound when the user has no record.
type Repository interface {
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
}

// Cache holds recent snapshots. Misses are reported with found=false, not an error.
type Cache interface {
	Get(ctx context.Context, userID string) (sub *models.Subscription, found bool, err error)
	Set(ctx context.Context, sub *models.Subscription) error
	Invalidate(ctx context.Context, userID string) error
}

type Service struct {
	repo   Repository
	cache  Cache
	trial  time.Duration
	now    func() time.Time
	logger *zap.SugaredLogger
}

type Option func(*Service)

func WithCache(cache Cache) Option {
	return func(s *Service) { s.cache = cache }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo Repository, trial utils.TrialConfig, logger *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		trial:  trial.TrialLength(),
		now:    time.Now,
		logger: utils.SugarOrNop(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns the user's subscription. When the lookup fails the returned
// record is an inactive placeholder alongside the error, so callers that ignore
// the error still gate as if there were no subscription.
func (s *Service) Current(ctx context.Context, userID string) (*models.Subscription, error) {
	if strings.TrimSpace(userID) == "" {
		return inactive(userID), store.ErrUserIDRequired
	}

	if s.cache != nil {
		sub, found, err := s.cache.Get(ctx, userID)
		if err != nil {
			s.logger.Warnw("subscription cache read failed", "user_id", userID, "error", err)
		} else if found {
			return sub, nil
		}
	}

	sub, err := s.repo.GetSubscription(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		sub, err = s.startTrial(ctx, userID)
		if err != nil {
			return inactive(userID), err
		}
	case err != nil:
		s.logger.Warnw("subscription lookup failed", "user_id", userID, "error", err)
		return inactive(userID), fmt.Errorf("subscription: lookup: %w", err)
	}

	s.remember(ctx, sub)
	return sub, nil
}

// Refresh drops any cached snapshot and reads the record again.
func (s *Service) Refresh(ctx context.Context, userID string) (*models.Subscription, error) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, userID); err != nil {
			s.logger.Warnw("subscription cache invalidate failed", "user_id", userID, "error", err)
		}
	}
	return s.Current(ctx, userID)
}

// Replace overwrites the user's record wholesale.
func (s *Service) Replace(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	if sub == nil || strings.TrimSpace(sub.UserID) == "" {
		return nil, store.ErrUserIDRequired
	}

	next := *sub
	next.Status = models.SubscriptionStatus(strings.ToLower(strings.TrimSpace(string(next.Status))))
	next.UpdatedAt = s.now().UTC()
	if err := s.repo.SaveSubscription(ctx, &next); err != nil {
		return nil, fmt.Errorf("subscription: save: %w", err)
	}

	s.remember(ctx, &next)
	return &next, nil
}

func (s *Service) startTrial(ctx context.Context, userID string) (*models.Subscription, error) {
	now := s.now().UTC()
	expires := now.Add(s.trial)
	sub := &models.Subscription{
		UserID:    userID,
		Plan:      TrialPlan,
		Status:    models.SubscriptionTrialing,
		ExpiresAt: &expires,
		UpdatedAt: now,
	}
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		s.logger.Warnw("create trial subscription failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("subscription: create trial: %w", err)
	}
	s.logger.Infow("trial subscription created", "user_id", userID, "expires_at", expires)
	return sub, nil
}

func (s *Service) remember(ctx context.Context, sub *models.Subscription) {
	if s.cache == nil || sub == nil {
		return
	}
	if err := s.cache.Set(ctx, sub); err != nil {
		s.logger.Warnw("subscription cache write failed", "user_id", sub.UserID, "error", err)
	}
}

func inactive(userID string) *models.Subscription {
	return &models.Subscription{UserID: userID, Status: models.SubscriptionInactive}
}
