package share

import (
	"context"

	"atome-store/internal/domain"
	apierrors "atome-store/internal/errors"
	"atome-store/internal/store"

	"github.com/google/uuid"
)

// FindPolicy returns the standing policy owner holds about peer, or nil
// when none exists.
func (e *Engine) FindPolicy(ctx context.Context, ownerID, peerID string) (*domain.SharePolicy, error) {
	atomes, err := e.ledger.List(ctx, store.Query{Type: domain.TypeSharePolicy, OwnerID: ownerID})
	if err != nil {
		return nil, err
	}
	for i := range atomes {
		policy := decodePolicy(&atomes[i])
		if policy != nil && policy.PeerID == peerID {
			return policy, nil
		}
	}
	return nil, nil
}

// SavePolicy upserts the (owner, peer) policy atome. One-shot policies are
// never persisted; they only affect the request they accompany.
func (e *Engine) SavePolicy(ctx context.Context, policy *domain.SharePolicy) error {
	if policy == nil || policy.Policy == "" || policy.Policy == domain.PolicyOneShot {
		return nil
	}
	switch policy.Policy {
	case domain.PolicyAlways, domain.PolicyNever, domain.PolicyBlock:
	default:
		return apierrors.Invalid("Unknown share policy", nil)
	}

	particles := map[string]any{
		"peer_id":     policy.PeerID,
		"policy":      policy.Policy,
		"permissions": permissionSetParticle(policy.Permissions),
	}

	atomes, err := e.ledger.List(ctx, store.Query{Type: domain.TypeSharePolicy, OwnerID: policy.OwnerID})
	if err != nil {
		return err
	}
	for i := range atomes {
		existing := decodePolicy(&atomes[i])
		if existing != nil && existing.PeerID == policy.PeerID {
			_, err := e.ledger.Update(ctx, atomes[i].ID, particles, policy.OwnerID)
			return err
		}
	}

	return e.ledger.Create(ctx, &domain.Atome{
		ID:        uuid.NewString(),
		Type:      domain.TypeSharePolicy,
		OwnerID:   policy.OwnerID,
		CreatorID: policy.OwnerID,
		Particles: particles,
	})
}

func decodePolicy(atome *domain.Atome) *domain.SharePolicy {
	if atome == nil || atome.Type != domain.TypeSharePolicy {
		return nil
	}
	policy := &domain.SharePolicy{OwnerID: atome.OwnerID}
	if peer, ok := atome.Particles["peer_id"].(string); ok {
		policy.PeerID = peer
	}
	if kind, ok := atome.Particles["policy"].(string); ok {
		policy.Policy = kind
	}
	policy.Permissions = permissionSetFromParticle(atome.Particles["permissions"])
	if policy.PeerID == "" || policy.Policy == "" {
		return nil
	}
	return policy
}

func permissionSetParticle(set domain.PermissionSet) map[string]any {
	return map[string]any{
		"read":   set.Read,
		"alter":  set.Alter,
		"delete": set.Delete,
		"create": set.Create,
	}
}

func permissionSetFromParticle(raw any) domain.PermissionSet {
	bag, ok := raw.(map[string]any)
	if !ok {
		return domain.PermissionSet{Read: true}
	}
	flag := func(key string) bool {
		v, ok := bag[key].(bool)
		return ok && v
	}
	return domain.PermissionSet{
		Read:   flag("read"),
		Alter:  flag("alter"),
		Delete: flag("delete"),
		Create: flag("create"),
	}
}
