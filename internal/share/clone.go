package share

import (
	"context"

	"atome-store/internal/domain"
	apierrors "atome-store/internal/errors"

	"github.com/google/uuid"
)

// cloneForTarget copies every resolved atome of a copy-share into the
// target's namespace. Clones are created parent-before-child so a cloned
// child can be reparented onto its cloned parent's new id; atomes whose
// original parent is not itself shared land under the receiver project.
// A failure mid-clone leaves already-created clones in place; there is no
// rollback.
func (e *Engine) cloneForTarget(ctx context.Context, request *domain.ShareRequest, receiverProjectID string) ([]string, error) {
	shared := map[string]bool{}
	for _, id := range request.AtomeIDs {
		shared[id] = true
	}

	originals := make([]*domain.Atome, 0, len(request.AtomeIDs))
	for _, id := range request.AtomeIDs {
		atome, err := e.ledger.Get(ctx, id, false)
		if err != nil {
			if apierrors.Is(err, apierrors.CodeNotFound) {
				// Deleted since the request was made; skip rather than fail
				// the whole accept.
				continue
			}
			return nil, err
		}
		originals = append(originals, atome)
	}

	ordered := orderParentFirst(originals, shared)

	cloneIDs := map[string]string{}
	created := make([]string, 0, len(ordered))
	for _, original := range ordered {
		cloneID := uuid.NewString()

		var parentID *string
		if original.ParentID != nil && shared[*original.ParentID] {
			if mapped, ok := cloneIDs[*original.ParentID]; ok {
				parentID = &mapped
			}
		}
		if parentID == nil && receiverProjectID != "" && original.Type != domain.TypeProject {
			receiver := receiverProjectID
			parentID = &receiver
		}

		particles := make(map[string]any, len(original.Particles))
		for k, v := range original.Particles {
			particles[k] = v
		}

		clone := &domain.Atome{
			ID:        cloneID,
			Type:      original.Type,
			OwnerID:   request.TargetUserID,
			CreatorID: request.SharerID,
			ParentID:  parentID,
			Particles: particles,
		}
		if err := e.ledger.Create(ctx, clone); err != nil {
			return created, err
		}
		cloneIDs[original.ID] = cloneID
		created = append(created, cloneID)
	}
	return created, nil
}

// orderParentFirst sorts atomes so every atome appears after its parent
// when the parent is part of the same set.
func orderParentFirst(atomes []*domain.Atome, inSet map[string]bool) []*domain.Atome {
	byID := make(map[string]*domain.Atome, len(atomes))
	for _, a := range atomes {
		byID[a.ID] = a
	}

	var ordered []*domain.Atome
	placed := map[string]bool{}

	var place func(a *domain.Atome)
	place = func(a *domain.Atome) {
		if placed[a.ID] {
			return
		}
		if a.ParentID != nil && inSet[*a.ParentID] {
			if parent, ok := byID[*a.ParentID]; ok {
				place(parent)
			}
		}
		placed[a.ID] = true
		ordered = append(ordered, a)
	}

	for _, a := range atomes {
		place(a)
	}
	return ordered
}
