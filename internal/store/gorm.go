package store

import (
	"context"
	"encoding/json"
	"time"

	"atome-store/internal/domain"
	apierrors "atome-store/internal/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Gorm persists the ledger through gorm. The local-first runtime opens it
// over sqlite, the networked deployment over postgres; behavior is
// identical.
type Gorm struct {
	db   *gorm.DB
	name string
}

func NewGorm(db *gorm.DB, name string) *Gorm {
	return &Gorm{db: db, name: name}
}

func (s *Gorm) Name() string { return s.name }

func (s *Gorm) Create(ctx context.Context, atome *domain.Atome) error {
	now := time.Now().UTC()
	if atome.ID == "" {
		atome.ID = uuid.NewString()
	}
	if atome.CreatedAt.IsZero() {
		atome.CreatedAt = now
	}
	atome.UpdatedAt = now

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Atome{}).Where("atome_id = ?", atome.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return apierrors.AlreadyExists("Atome already exists", nil)
		}

		if err := tx.Create(atome).Error; err != nil {
			return err
		}

		for key, value := range atome.Particles {
			encoded, err := encodeParticleValue(value)
			if err != nil {
				return apierrors.Invalid("Unencodable particle value", err)
			}
			if err := tx.Create(&domain.Particle{
				AtomeID:   atome.ID,
				Key:       key,
				Value:     encoded,
				UpdatedAt: now,
			}).Error; err != nil {
				return err
			}
			if err := tx.Create(&domain.ParticleVersion{
				AtomeID:   atome.ID,
				Key:       key,
				Value:     encoded,
				Version:   1,
				Timestamp: now,
				Author:    atome.CreatorID,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Gorm) Get(ctx context.Context, id string, includeDeleted bool) (*domain.Atome, error) {
	var atome domain.Atome
	query := s.db.WithContext(ctx).Where("atome_id = ?", id)
	if !includeDeleted {
		query = query.Where("deleted_at IS NULL")
	}
	if err := query.First(&atome).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apierrors.NotFound("Atome not found", err)
		}
		return nil, err
	}
	if err := s.loadParticles(ctx, &atome); err != nil {
		return nil, err
	}
	return &atome, nil
}

func (s *Gorm) List(ctx context.Context, q Query) ([]domain.Atome, error) {
	query := s.db.WithContext(ctx).Model(&domain.Atome{})
	if q.Type != "" {
		query = query.Where("atome_type = ?", q.Type)
	}
	if q.OwnerID != "" {
		query = query.Where("owner_id = ?", q.OwnerID)
	}
	if q.ParentID != "" {
		query = query.Where("parent_id = ?", q.ParentID)
	}
	if !q.IncludeDeleted {
		query = query.Where("deleted_at IS NULL")
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}

	var atomes []domain.Atome
	if err := query.Order("updated_at DESC").Find(&atomes).Error; err != nil {
		return nil, err
	}

	if len(atomes) == 0 {
		return atomes, nil
	}

	ids := make([]string, 0, len(atomes))
	for i := range atomes {
		ids = append(ids, atomes[i].ID)
	}
	var particles []domain.Particle
	if err := s.db.WithContext(ctx).Where("atome_id IN ?", ids).Find(&particles).Error; err != nil {
		return nil, err
	}
	byAtome := make(map[string]map[string]any, len(atomes))
	for _, p := range particles {
		bag := byAtome[p.AtomeID]
		if bag == nil {
			bag = map[string]any{}
			byAtome[p.AtomeID] = bag
		}
		bag[p.Key] = decodeParticleValue(p.Value)
	}
	for i := range atomes {
		if bag, ok := byAtome[atomes[i].ID]; ok {
			atomes[i].Particles = bag
		} else {
			atomes[i].Particles = map[string]any{}
		}
	}
	return atomes, nil
}

func (s *Gorm) Update(ctx context.Context, id string, patch map[string]any, author string) (*domain.Atome, error) {
	now := time.Now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var atome domain.Atome
		if err := tx.Where("atome_id = ? AND deleted_at IS NULL", id).First(&atome).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apierrors.NotFound("Atome not found", err)
			}
			return err
		}

		for key, value := range patch {
			encoded, err := encodeParticleValue(value)
			if err != nil {
				return apierrors.Invalid("Unencodable particle value", err)
			}

			var existing domain.Particle
			findErr := tx.Where("atome_id = ? AND particle_key = ?", id, key).First(&existing).Error
			switch findErr {
			case nil:
				existing.Value = encoded
				existing.UpdatedAt = now
				if err := tx.Save(&existing).Error; err != nil {
					return err
				}
			case gorm.ErrRecordNotFound:
				if err := tx.Create(&domain.Particle{
					AtomeID:   id,
					Key:       key,
					Value:     encoded,
					UpdatedAt: now,
				}).Error; err != nil {
					return err
				}
			default:
				return findErr
			}

			var lastVersion int64
			if err := tx.Model(&domain.ParticleVersion{}).
				Where("atome_id = ? AND particle_key = ?", id, key).
				Select("COALESCE(MAX(version), 0)").
				Scan(&lastVersion).Error; err != nil {
				return err
			}
			if err := tx.Create(&domain.ParticleVersion{
				AtomeID:   id,
				Key:       key,
				Value:     encoded,
				Version:   lastVersion + 1,
				Timestamp: now,
				Author:    author,
			}).Error; err != nil {
				return err
			}
		}

		return tx.Model(&domain.Atome{}).
			Where("atome_id = ?", id).
			Update("updated_at", now).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id, false)
}

func (s *Gorm) SoftDelete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&domain.Atome{}).
		Where("atome_id = ? AND deleted_at IS NULL", id).
		Updates(map[string]any{"deleted_at": now, "updated_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apierrors.NotFound("Atome not found", nil)
	}
	return nil
}

func (s *Gorm) ReassignOwner(ctx context.Context, oldOwner, newOwner string) (int64, error) {
	result := s.db.WithContext(ctx).Model(&domain.Atome{}).
		Where("owner_id = ?", oldOwner).
		Updates(map[string]any{"owner_id": newOwner, "updated_at": time.Now().UTC()})
	return result.RowsAffected, result.Error
}

func (s *Gorm) Available(ctx context.Context) bool {
	sqlDB, err := s.db.DB()
	if err != nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return sqlDB.PingContext(probeCtx) == nil
}

// HasCredential is always true on a directly attached store; credential
// checks only matter for the remote adapter.
func (s *Gorm) HasCredential(string) bool { return true }

func (s *Gorm) loadParticles(ctx context.Context, atome *domain.Atome) error {
	var particles []domain.Particle
	if err := s.db.WithContext(ctx).Where("atome_id = ?", atome.ID).Find(&particles).Error; err != nil {
		return err
	}
	atome.Particles = make(map[string]any, len(particles))
	for _, p := range particles {
		atome.Particles[p.Key] = decodeParticleValue(p.Value)
	}
	return nil
}

// History returns the append-only version rows for one particle key,
// newest first.
func (s *Gorm) History(ctx context.Context, atomeID, key string, limit int) ([]domain.ParticleVersion, error) {
	if limit <= 0 {
		limit = 100
	}
	var versions []domain.ParticleVersion
	err := s.db.WithContext(ctx).
		Where("atome_id = ? AND particle_key = ?", atomeID, key).
		Order("version DESC").
		Limit(limit).
		Find(&versions).Error
	return versions, err
}

func encodeParticleValue(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeParticleValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		// Legacy rows may hold bare strings.
		return raw
	}
	return value
}
