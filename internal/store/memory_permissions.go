package store

import (
	"context"
	"time"

	"atome-store/internal/domain"
	apierrors "atome-store/internal/errors"

	"github.com/google/uuid"
)

func permissionScope(atomeID string, particleKey *string, principalID string) string {
	key := ""
	if particleKey != nil {
		key = *particleKey
	}
	return atomeID + "\x00" + key + "\x00" + principalID
}

func (s *Memory) Grant(_ context.Context, perm *domain.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.offline(); err != nil {
		return err
	}
	if perm.GrantedAt.IsZero() {
		perm.GrantedAt = time.Now().UTC()
	}
	scope := permissionScope(perm.AtomeID, perm.ParticleKey, perm.PrincipalID)
	for _, existing := range s.permissions {
		if permissionScope(existing.AtomeID, existing.ParticleKey, existing.PrincipalID) == scope {
			perm.ID = existing.ID
			copied := *perm
			s.permissions[existing.ID] = &copied
			return nil
		}
	}
	if perm.ID == "" {
		perm.ID = uuid.NewString()
	}
	copied := *perm
	s.permissions[perm.ID] = &copied
	return nil
}

func (s *Memory) Revoke(_ context.Context, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.offline(); err != nil {
		return err
	}
	if _, ok := s.permissions[permissionID]; !ok {
		return apierrors.NotFound("Permission not found", nil)
	}
	delete(s.permissions, permissionID)
	return nil
}

func (s *Memory) Find(_ context.Context, permissionID string) (*domain.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perm, ok := s.permissions[permissionID]
	if !ok {
		return nil, apierrors.NotFound("Permission not found", nil)
	}
	copied := *perm
	return &copied, nil
}

func (s *Memory) ForAtome(_ context.Context, atomeID string) ([]domain.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now().UTC()
	var out []domain.Permission
	for _, perm := range s.permissions {
		if perm.AtomeID == atomeID && !perm.Expired(now) {
			out = append(out, *perm)
		}
	}
	return out, nil
}

func (s *Memory) ForPrincipal(_ context.Context, principalID string) ([]domain.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now().UTC()
	var out []domain.Permission
	for _, perm := range s.permissions {
		if perm.PrincipalID == principalID && !perm.Expired(now) {
			out = append(out, *perm)
		}
	}
	return out, nil
}

func (s *Memory) CanRead(ctx context.Context, atomeID, principalID string) (bool, error) {
	return s.hasBit(atomeID, principalID, func(p *domain.Permission) bool { return p.CanRead }), nil
}

func (s *Memory) CanWrite(ctx context.Context, atomeID, principalID string) (bool, error) {
	return s.hasBit(atomeID, principalID, func(p *domain.Permission) bool { return p.CanWrite }), nil
}

func (s *Memory) CanDelete(ctx context.Context, atomeID, principalID string) (bool, error) {
	return s.hasBit(atomeID, principalID, func(p *domain.Permission) bool { return p.CanDelete }), nil
}

func (s *Memory) CanShare(ctx context.Context, atomeID, principalID string) (bool, error) {
	return s.hasBit(atomeID, principalID, func(p *domain.Permission) bool { return p.CanShare }), nil
}

func (s *Memory) CanCreate(ctx context.Context, atomeID, principalID string) (bool, error) {
	return s.hasBit(atomeID, principalID, func(p *domain.Permission) bool { return p.CanCreate }), nil
}

func (s *Memory) hasBit(atomeID, principalID string, bit func(*domain.Permission) bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now().UTC()
	for _, perm := range s.permissions {
		if perm.AtomeID == atomeID && perm.PrincipalID == principalID && !perm.Expired(now) && bit(perm) {
			return true
		}
	}
	return false
}
