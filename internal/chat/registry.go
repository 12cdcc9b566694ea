package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wuwenbin0122/lumina/internal/models"
	"github.com/wuwenbin0122/lumina/internal/store"
)

type registryEntry struct {
	ws           *Workspace
	lastActivity time.Time
}

// Registry keeps exactly one Workspace per user, so a conversation is never
// owned by two sessions in the same process. Idle workspaces are evicted once
// an eviction loop is started.
type Registry struct {
	deps Deps

	mu            sync.Mutex
	workspaces    map[string]*registryEntry
	evictIdle     time.Duration
	evictInterval time.Duration
	evictRunning  bool
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:       deps.withDefaults(),
		workspaces: make(map[string]*registryEntry),
	}
}

// Workspace returns the user's workspace, starting it on first use. Start
// failures are published as notices and do not prevent use.
func (r *Registry) Workspace(ctx context.Context, user models.CurrentUser) (*Workspace, error) {
	if strings.TrimSpace(user.ID) == "" {
		return nil, store.ErrUserIDRequired
	}

	r.mu.Lock()
	entry, ok := r.workspaces[user.ID]
	if !ok {
		entry = &registryEntry{ws: NewWorkspace(user, r.deps)}
		r.workspaces[user.ID] = entry
	}
	entry.lastActivity = r.deps.Now()
	ws := entry.ws
	r.mu.Unlock()

	if !ok {
		if err := ws.Start(ctx); err != nil {
			r.deps.Logger.Warnw("workspace start incomplete", "user_id", user.ID, "error", err)
		}
	}
	return ws, nil
}

// Lookup returns an existing workspace without creating one or marking it active.
func (r *Registry) Lookup(userID string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.workspaces[userID]
	if !ok {
		return nil, false
	}
	return entry.ws, true
}

// Touch marks the user's workspace as active, e.g. while an event stream is open.
func (r *Registry) Touch(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.workspaces[userID]; ok {
		entry.lastActivity = r.deps.Now()
	}
}

// Drop closes and forgets the user's workspace.
func (r *Registry) Drop(userID string) {
	r.mu.Lock()
	entry, ok := r.workspaces[userID]
	delete(r.workspaces, userID)
	r.mu.Unlock()

	if ok {
		entry.ws.Close()
	}
}

func (r *Registry) SetEvictionConfig(idle, interval time.Duration) {
	r.mu.Lock()
	r.evictIdle = idle
	r.evictInterval = interval
	r.mu.Unlock()
}

// StartEvictionLoop drops idle workspaces every interval until ctx is done.
// It is a no-op when eviction is not configured or already running.
func (r *Registry) StartEvictionLoop(ctx context.Context) {
	r.mu.Lock()
	if r.evictRunning || r.evictIdle <= 0 || r.evictInterval <= 0 {
		r.mu.Unlock()
		return
	}
	interval := r.evictInterval
	r.evictRunning = true
	r.mu.Unlock()

	go r.runEvictionLoop(ctx, interval)
}

func (r *Registry) runEvictionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.evictRunning = false
			r.mu.Unlock()
			return
		case <-ticker.C:
			if n := r.EvictIdle(r.deps.Now()); n > 0 {
				r.deps.Logger.Debugw("evicted idle workspaces", "count", n)
			}
		}
	}
}

// EvictIdle drops workspaces untouched for the idle period whose active turn
// has finished, and reports how many were dropped.
func (r *Registry) EvictIdle(now time.Time) int {
	r.mu.Lock()
	idle := r.evictIdle
	if idle <= 0 {
		r.mu.Unlock()
		return 0
	}
	var stale []*Workspace
	for userID, entry := range r.workspaces {
		if now.Sub(entry.lastActivity) < idle || entry.ws.ActiveSession().IsLoading() {
			continue
		}
		delete(r.workspaces, userID)
		stale = append(stale, entry.ws)
	}
	r.mu.Unlock()

	for _, ws := range stale {
		ws.Close()
	}
	return len(stale)
}
