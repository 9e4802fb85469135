package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
)

// SecurityEvent is one audit entry kept by MemoryUserRepo.
type SecurityEvent struct {
	UserID    string
	EventType string
	IP        string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// MemoryUserRepo stores users in memory (dev/test use).
type MemoryUserRepo struct {
	mu      sync.RWMutex
	byID    map[string]*domain.User
	byEmail map[string]string
	events  []SecurityEvent
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		byID:    make(map[string]*domain.User),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[domain.NormalizeEmail(email)]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	u := *r.byID[id]
	return &u, nil
}

func (r *MemoryUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	u := *stored
	return &u, nil
}

func (r *MemoryUserRepo) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := domain.NormalizeEmail(user.Email)
	if _, exists := r.byEmail[key]; exists {
		return domain.ErrUserExists
	}
	if user.Role == "" {
		user.Role = domain.DefaultRole
	}
	if user.AccountStatus == "" {
		user.AccountStatus = domain.AccountActive
	}
	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now

	stored := *user
	r.byID[user.ID] = &stored
	r.byEmail[key] = user.ID
	return nil
}

func (r *MemoryUserRepo) Update(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[user.ID]; !ok {
		return domain.ErrUserNotFound
	}
	user.UpdatedAt = time.Now().UTC()
	stored := *user
	r.byID[user.ID] = &stored
	return nil
}

func (r *MemoryUserRepo) LogSecurityEvent(ctx context.Context, userID, eventType, ip string, metadata map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, SecurityEvent{
		UserID:    userID,
		EventType: eventType,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// Events returns a copy of the audit trail, optionally filtered by type.
func (r *MemoryUserRepo) Events(eventType string) []SecurityEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]SecurityEvent, 0, len(r.events))
	for _, e := range r.events {
		if eventType == "" || e.EventType == eventType {
			result = append(result, e)
		}
	}
	return result
}
