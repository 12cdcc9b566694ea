package subscription

import (
	"context"
	"sync"

	"github.com/wuwenbin0122/lumina/internal/models"
	"github.com/wuwenbin0122/lumina/internal/store"
)

type MemoryRepository struct {
	mu   sync.RWMutex
	subs map[string]models.Subscription
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{subs: make(map[string]models.Subscription)}
}

func (r *MemoryRepository) GetSubscription(_ context.Context, userID string) (*models.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sub, nil
}

func (r *MemoryRepository) SaveSubscription(_ context.Context, sub *models.Subscription) error {
	if sub == nil || sub.UserID == "" {
		return store.ErrUserIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.UserID] = *sub
	return nil
}
