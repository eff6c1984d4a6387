package notifications

import (
	"context"
	"errors"
	"sort"
	"sync"

	"ops-realtime/internal/models"
)

var (
	ErrNotFound = errors.New("notification not found")
	ErrInvalid  = errors.New("invalid notification")
)

// Store keeps notifications per (tenant, user).
type Store interface {
	List(ctx context.Context, tenantID, userID string) ([]models.Notification, error)
	Get(ctx context.Context, tenantID, userID, id string) (models.Notification, error)
	Put(ctx context.Context, tenantID, userID string, n models.Notification) error
	Delete(ctx context.Context, tenantID, userID, id string) error
}

type scope struct {
	tenantID string
	userID   string
}

type MemoryStore struct {
	mu    sync.RWMutex
	items map[scope]map[string]models.Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[scope]map[string]models.Notification)}
}

func (s *MemoryStore) List(_ context.Context, tenantID, userID string) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := s.items[scope{tenantID, userID}]
	out := make([]models.Notification, 0, len(byID))
	for _, n := range byID {
		out = append(out, n)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, tenantID, userID, id string) (models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.items[scope{tenantID, userID}][id]
	if !ok {
		return models.Notification{}, ErrNotFound
	}
	return n, nil
}

func (s *MemoryStore) Put(_ context.Context, tenantID, userID string, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scope{tenantID, userID}
	if s.items[key] == nil {
		s.items[key] = make(map[string]models.Notification)
	}
	s.items[key][n.ID] = n
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scope{tenantID, userID}
	if _, ok := s.items[key][id]; !ok {
		return ErrNotFound
	}
	delete(s.items[key], id)
	if len(s.items[key]) == 0 {
		delete(s.items, key)
	}
	return nil
}

func sortNewestFirst(items []models.Notification) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
}
