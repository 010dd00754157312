package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"atome-store/internal/domain"
	apierrors "atome-store/internal/errors"

	"github.com/google/uuid"
)

// Memory is an in-process Ledger. Tests run the orchestrator against two
// of these; it also stands in for an unreachable backend via SetAvailable.
type Memory struct {
	mu          sync.RWMutex
	name        string
	atomes      map[string]*domain.Atome
	versions    map[string][]domain.ParticleVersion
	permissions map[string]*domain.Permission
	available   bool
	credentials map[string]bool
}

func NewMemory(name string) *Memory {
	return &Memory{
		name:        name,
		atomes:      map[string]*domain.Atome{},
		versions:    map[string][]domain.ParticleVersion{},
		permissions: map[string]*domain.Permission{},
		available:   true,
		credentials: map[string]bool{},
	}
}

func (s *Memory) Name() string { return s.name }

// SetAvailable toggles the simulated reachability of the backend.
func (s *Memory) SetAvailable(up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = up
}

// SetCredential marks a verified credential for the identity.
func (s *Memory) SetCredential(userID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[userID] = ok
}

func (s *Memory) Available(context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

func (s *Memory) HasCredential(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credentials[userID]
}

func (s *Memory) offline() error {
	if !s.available {
		return apierrors.Unavailable("Backend unavailable", nil)
	}
	return nil
}

func (s *Memory) Create(_ context.Context, atome *domain.Atome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.offline(); err != nil {
		return err
	}
	if atome.ID == "" {
		atome.ID = uuid.NewString()
	}
	if _, exists := s.atomes[atome.ID]; exists {
		return apierrors.AlreadyExists("Atome already exists", nil)
	}
	now := time.Now().UTC()
	if atome.CreatedAt.IsZero() {
		atome.CreatedAt = now
	}
	atome.UpdatedAt = now
	stored := cloneAtome(atome)
	s.atomes[atome.ID] = stored
	for key, value := range stored.Particles {
		s.appendVersion(stored.ID, key, value, stored.CreatorID, now)
	}
	return nil
}

func (s *Memory) Get(_ context.Context, id string, includeDeleted bool) (*domain.Atome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.offline(); err != nil {
		return nil, err
	}
	atome, ok := s.atomes[id]
	if !ok || (!includeDeleted && atome.Deleted()) {
		return nil, apierrors.NotFound("Atome not found", nil)
	}
	return cloneAtome(atome), nil
}

func (s *Memory) List(_ context.Context, q Query) ([]domain.Atome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.offline(); err != nil {
		return nil, err
	}
	var matched []domain.Atome
	for _, atome := range s.atomes {
		if !q.IncludeDeleted && atome.Deleted() {
			continue
		}
		if q.Type != "" && atome.Type != q.Type {
			continue
		}
		if q.OwnerID != "" && atome.OwnerID != q.OwnerID {
			continue
		}
		if q.ParentID != "" && (atome.ParentID == nil || *atome.ParentID != q.ParentID) {
			continue
		}
		matched = append(matched, *cloneAtome(atome))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (s *Memory) Update(_ context.Context, id string, patch map[string]any, author string) (*domain.Atome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.offline(); err != nil {
		return nil, err
	}
	atome, ok := s.atomes[id]
	if !ok || atome.Deleted() {
		return nil, apierrors.NotFound("Atome not found", nil)
	}
	now := time.Now().UTC()
	if atome.Particles == nil {
		atome.Particles = map[string]any{}
	}
	for key, value := range patch {
		atome.Particles[key] = value
		s.appendVersion(id, key, value, author, now)
	}
	atome.UpdatedAt = now
	return cloneAtome(atome), nil
}

func (s *Memory) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.offline(); err != nil {
		return err
	}
	atome, ok := s.atomes[id]
	if !ok || atome.Deleted() {
		return apierrors.NotFound("Atome not found", nil)
	}
	now := time.Now().UTC()
	atome.DeletedAt = &now
	atome.UpdatedAt = now
	return nil
}

func (s *Memory) ReassignOwner(_ context.Context, oldOwner, newOwner string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.offline(); err != nil {
		return 0, err
	}
	var moved int64
	now := time.Now().UTC()
	for _, atome := range s.atomes {
		if atome.OwnerID == oldOwner {
			atome.OwnerID = newOwner
			atome.UpdatedAt = now
			moved++
		}
	}
	return moved, nil
}

func (s *Memory) appendVersion(atomeID, key string, value any, author string, at time.Time) {
	encoded, err := encodeParticleValue(value)
	if err != nil {
		return
	}
	history := s.versions[atomeID]
	var last int64
	for _, v := range history {
		if v.Key == key && v.Version > last {
			last = v.Version
		}
	}
	s.versions[atomeID] = append(history, domain.ParticleVersion{
		AtomeID:   atomeID,
		Key:       key,
		Value:     encoded,
		Version:   last + 1,
		Timestamp: at,
		Author:    author,
	})
}

// History returns version rows for one particle key, newest first.
func (s *Memory) History(_ context.Context, atomeID, key string, limit int) ([]domain.ParticleVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ParticleVersion
	for _, v := range s.versions[atomeID] {
		if v.Key == key {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneAtome(a *domain.Atome) *domain.Atome {
	clone := *a
	if a.ParentID != nil {
		parent := *a.ParentID
		clone.ParentID = &parent
	}
	if a.DeletedAt != nil {
		deleted := *a.DeletedAt
		clone.DeletedAt = &deleted
	}
	clone.Particles = make(map[string]any, len(a.Particles))
	for k, v := range a.Particles {
		clone.Particles[k] = v
	}
	return &clone
}
