package store

import (
	"context"
	"time"

	"atome-store/internal/domain"
	apierrors "atome-store/internal/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *Gorm) Grant(ctx context.Context, perm *domain.Permission) error {
	if perm.ID == "" {
		perm.ID = uuid.NewString()
	}
	if perm.GrantedAt.IsZero() {
		perm.GrantedAt = time.Now().UTC()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("atome_id = ? AND principal_id = ?", perm.AtomeID, perm.PrincipalID)
		if perm.ParticleKey == nil {
			query = query.Where("particle_key IS NULL")
		} else {
			query = query.Where("particle_key = ?", *perm.ParticleKey)
		}

		var existing domain.Permission
		err := query.First(&existing).Error
		switch err {
		case nil:
			perm.ID = existing.ID
			return tx.Model(&domain.Permission{}).
				Where("permission_id = ?", existing.ID).
				Updates(map[string]any{
					"can_read":   perm.CanRead,
					"can_write":  perm.CanWrite,
					"can_delete": perm.CanDelete,
					"can_share":  perm.CanShare,
					"can_create": perm.CanCreate,
					"granted_by": perm.GrantedBy,
					"granted_at": perm.GrantedAt,
					"expires_at": perm.ExpiresAt,
					"share_mode": perm.ShareMode,
					"conditions": perm.Conditions,
				}).Error
		case gorm.ErrRecordNotFound:
			return tx.Create(perm).Error
		default:
			return err
		}
	})
}

func (s *Gorm) Revoke(ctx context.Context, permissionID string) error {
	result := s.db.WithContext(ctx).Where("permission_id = ?", permissionID).Delete(&domain.Permission{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apierrors.NotFound("Permission not found", nil)
	}
	return nil
}

func (s *Gorm) Find(ctx context.Context, permissionID string) (*domain.Permission, error) {
	var perm domain.Permission
	err := s.db.WithContext(ctx).Where("permission_id = ?", permissionID).First(&perm).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apierrors.NotFound("Permission not found", err)
	}
	if err != nil {
		return nil, err
	}
	return &perm, nil
}

func (s *Gorm) ForAtome(ctx context.Context, atomeID string) ([]domain.Permission, error) {
	var perms []domain.Permission
	err := s.db.WithContext(ctx).
		Where("atome_id = ?", atomeID).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		Find(&perms).Error
	return perms, err
}

func (s *Gorm) ForPrincipal(ctx context.Context, principalID string) ([]domain.Permission, error) {
	var perms []domain.Permission
	err := s.db.WithContext(ctx).
		Where("principal_id = ?", principalID).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		Find(&perms).Error
	return perms, err
}

func (s *Gorm) CanRead(ctx context.Context, atomeID, principalID string) (bool, error) {
	return s.hasBit(ctx, atomeID, principalID, "can_read")
}

func (s *Gorm) CanWrite(ctx context.Context, atomeID, principalID string) (bool, error) {
	return s.hasBit(ctx, atomeID, principalID, "can_write")
}

func (s *Gorm) CanDelete(ctx context.Context, atomeID, principalID string) (bool, error) {
	return s.hasBit(ctx, atomeID, principalID, "can_delete")
}

func (s *Gorm) CanShare(ctx context.Context, atomeID, principalID string) (bool, error) {
	return s.hasBit(ctx, atomeID, principalID, "can_share")
}

func (s *Gorm) CanCreate(ctx context.Context, atomeID, principalID string) (bool, error) {
	return s.hasBit(ctx, atomeID, principalID, "can_create")
}

func (s *Gorm) hasBit(ctx context.Context, atomeID, principalID, column string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Permission{}).
		Where("atome_id = ? AND principal_id = ?", atomeID, principalID).
		Where(column+" = ?", true).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		Count(&count).Error
	return count > 0, err
}
