package repo

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/user/entity"
)

// MemoryRepo is a process-local user store for development and tests.
type MemoryRepo struct {
	mu      sync.RWMutex
	byID    map[string]*entity.User
	byEmail map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]*entity.User{}, byEmail: map[string]string{}}
}

func (r *MemoryRepo) Create(_ context.Context, u *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := r.byEmail[key]; ok {
		return ErrDuplicateEmail
	}
	now := time.Now().UTC()
	cp := *u
	cp.CreatedAt, cp.UpdatedAt = now, now
	r.byID[cp.ID] = &cp
	r.byEmail[key] = cp.ID
	return nil
}

func (r *MemoryRepo) FindByEmail(_ context.Context, email string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return r.snapshot(id)
}

func (r *MemoryRepo) FindByRefreshToken(_ context.Context, token string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, u := range r.byID {
		if u.RefreshToken != nil && *u.RefreshToken == token {
			return r.snapshot(id)
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepo) SetRefreshToken(_ context.Context, id string, token *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if token == nil {
		u.RefreshToken = nil
	} else {
		t := *token
		u.RefreshToken = &t
	}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepo) SwapRefreshToken(_ context.Context, id, old, next string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok || u.RefreshToken == nil || *u.RefreshToken != old {
		return false, nil
	}
	u.RefreshToken = &next
	u.UpdatedAt = time.Now().UTC()
	return true, nil
}

// snapshot returns a copy so callers never alias stored state. Caller holds mu.
func (r *MemoryRepo) snapshot(id string) (*entity.User, error) {
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	if u.RefreshToken != nil {
		t := *u.RefreshToken
		cp.RefreshToken = &t
	}
	return &cp, nil
}
