// Package share implements the permission engine: bitmask ACL checks,
// grant/revoke, the share-request lifecycle, and standing share policies.
package share

import (
	"context"
	"time"

	"atome-store/internal/domain"
	apierrors "atome-store/internal/errors"
	"atome-store/internal/events"
	"atome-store/internal/store"
)

// Mask is the permission bitmask. Every requested bit must independently
// pass for a check to succeed.
type Mask uint8

const (
	Read   Mask = 1
	Write  Mask = 2
	Delete Mask = 4
	Share  Mask = 8
	Create Mask = 16
	Admin  Mask = Read | Write | Delete | Share | Create
)

// Engine evaluates ACLs against one authoritative ledger.
type Engine struct {
	ledger store.Ledger
	bus    *events.Bus
	now    func() time.Time
}

func NewEngine(ledger store.Ledger, bus *events.Bus) *Engine {
	return &Engine{ledger: ledger, bus: bus, now: func() time.Time { return time.Now().UTC() }}
}

// PermissionChange is the payload emitted on events.PermissionChanged.
type PermissionChange struct {
	AtomeID     string
	PrincipalID string
	Revoked     bool
}

// EffectiveOwner resolves the ACL root of an atome: owner_id when set,
// otherwise the reserved _pending_owner_id particle.
func EffectiveOwner(atome *domain.Atome) string {
	if atome == nil {
		return ""
	}
	if atome.OwnerID != "" {
		return atome.OwnerID
	}
	if pending, ok := atome.Particles[domain.PendingOwnerKey].(string); ok {
		return pending
	}
	return ""
}

// EffectiveOwnerID looks the atome up and resolves its ACL root.
// Tombstoned atomes still resolve; revocation decisions outlive deletion.
func (e *Engine) EffectiveOwnerID(ctx context.Context, atomeID string) (string, error) {
	atome, err := e.ledger.Get(ctx, atomeID, true)
	if err != nil {
		return "", err
	}
	return EffectiveOwner(atome), nil
}

// CheckPermission reports whether userID holds every bit of required on
// the atome. The effective owner bypasses all row checks.
func (e *Engine) CheckPermission(ctx context.Context, userID, atomeID string, required Mask) (bool, error) {
	if userID == "" || atomeID == "" {
		return false, nil
	}

	owner, err := e.EffectiveOwnerID(ctx, atomeID)
	if err != nil {
		if apierrors.Is(err, apierrors.CodeNotFound) {
			return false, nil
		}
		return false, err
	}
	if owner != "" && owner == userID {
		return true, nil
	}

	checks := []struct {
		bit   Mask
		probe func(context.Context, string, string) (bool, error)
	}{
		{Read, e.ledger.CanRead},
		{Write, e.ledger.CanWrite},
		{Delete, e.ledger.CanDelete},
		{Share, e.ledger.CanShare},
		{Create, e.ledger.CanCreate},
	}
	for _, check := range checks {
		if required&check.bit == 0 {
			continue
		}
		allowed, err := check.probe(ctx, atomeID, userID)
		if err != nil {
			return false, err
		}
		if !allowed {
			return false, nil
		}
	}
	return true, nil
}

// GrantOptions carries the optional fields of a share grant.
type GrantOptions struct {
	ParticleKey *string
	ExpiresAt   *time.Time
	ShareMode   string
	Conditions  string
}

// CreateShare upserts a permission row for principal on the atome. The
// grantor must be the effective owner or hold can_share. The rights
// payload carries read/alter/delete/create only: can_share rows are
// minted solely through parent-owner inheritance, never from the wire,
// so resharing authority always traces back to an owner.
func (e *Engine) CreateShare(ctx context.Context, grantorID, atomeID, principalID string, set domain.PermissionSet, opts GrantOptions) (*domain.Permission, error) {
	allowed, err := e.canGrant(ctx, grantorID, atomeID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apierrors.Unauthorized("Not owner and no share permission", nil)
	}

	perm := &domain.Permission{
		AtomeID:     atomeID,
		ParticleKey: opts.ParticleKey,
		PrincipalID: principalID,
		CanRead:     set.Read,
		CanWrite:    set.Alter,
		CanDelete:   set.Delete,
		CanCreate:   set.Create,
		GrantedBy:   grantorID,
		GrantedAt:   e.now(),
		ExpiresAt:   opts.ExpiresAt,
		ShareMode:   opts.ShareMode,
		Conditions:  opts.Conditions,
	}
	if err := e.ledger.Grant(ctx, perm); err != nil {
		return nil, err
	}

	e.bus.Emit(events.PermissionChanged, PermissionChange{AtomeID: atomeID, PrincipalID: principalID})
	return perm, nil
}

// RevokeShare hard-deletes a permission row. Only the atome owner or the
// original granter may revoke.
func (e *Engine) RevokeShare(ctx context.Context, grantorID, permissionID string) error {
	perm, err := e.ledger.Find(ctx, permissionID)
	if err != nil {
		return err
	}

	owner, err := e.EffectiveOwnerID(ctx, perm.AtomeID)
	if err != nil && !apierrors.Is(err, apierrors.CodeNotFound) {
		return err
	}
	if grantorID != owner && grantorID != perm.GrantedBy {
		return apierrors.Unauthorized("Not owner or granter", nil)
	}

	if err := e.ledger.Revoke(ctx, permissionID); err != nil {
		return err
	}
	e.bus.Emit(events.PermissionChanged, PermissionChange{
		AtomeID:     perm.AtomeID,
		PrincipalID: perm.PrincipalID,
		Revoked:     true,
	})
	return nil
}

func (e *Engine) canGrant(ctx context.Context, grantorID, atomeID string) (bool, error) {
	owner, err := e.EffectiveOwnerID(ctx, atomeID)
	if err != nil {
		return false, err
	}
	if owner != "" && owner == grantorID {
		return true, nil
	}
	return e.ledger.CanShare(ctx, atomeID, grantorID)
}

// InheritFromParent copies the parent's active grants onto a freshly
// created child, skipping a grantee matching the child's own owner. The
// parent's effective owner, when different from the child owner, receives
// full rights on the child.
func (e *Engine) InheritFromParent(ctx context.Context, parentID, childID, childOwnerID, grantorID string) error {
	if parentID == "" || childID == "" {
		return nil
	}

	grants, err := e.ledger.ForAtome(ctx, parentID)
	if err != nil {
		return err
	}
	for i := range grants {
		grant := grants[i]
		if grant.PrincipalID == childOwnerID {
			continue
		}
		inherited := &domain.Permission{
			AtomeID:     childID,
			PrincipalID: grant.PrincipalID,
			CanRead:     grant.CanRead,
			CanWrite:    grant.CanWrite,
			CanDelete:   grant.CanDelete,
			CanShare:    grant.CanShare,
			CanCreate:   grant.CanCreate,
			GrantedBy:   firstNonEmpty(grant.GrantedBy, grantorID),
			GrantedAt:   e.now(),
			ExpiresAt:   grant.ExpiresAt,
			ShareMode:   grant.ShareMode,
			Conditions:  grant.Conditions,
		}
		if err := e.ledger.Grant(ctx, inherited); err != nil {
			return err
		}
	}

	parentOwner, err := e.EffectiveOwnerID(ctx, parentID)
	if err != nil {
		if apierrors.Is(err, apierrors.CodeNotFound) {
			return nil
		}
		return err
	}
	if parentOwner != "" && parentOwner != childOwnerID {
		full := &domain.Permission{
			AtomeID:     childID,
			PrincipalID: parentOwner,
			CanRead:     true,
			CanWrite:    true,
			CanDelete:   true,
			CanShare:    true,
			CanCreate:   true,
			GrantedBy:   firstNonEmpty(grantorID, parentOwner),
			GrantedAt:   e.now(),
			ShareMode:   domain.ShareModeRealtime,
		}
		if err := e.ledger.Grant(ctx, full); err != nil {
			return err
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
