package share

import (
	"context"
	"sort"

	"atome-store/internal/domain"
	apierrors "atome-store/internal/errors"
	"atome-store/internal/store"
)

// Inbox lists share requests addressed to userID, pending first.
func (e *Engine) Inbox(ctx context.Context, userID string) ([]domain.ShareRequest, error) {
	return e.listRequests(ctx, userID, domain.ShareBoxInbox)
}

// MyShares lists the requests userID has sent.
func (e *Engine) MyShares(ctx context.Context, userID string) ([]domain.ShareRequest, error) {
	return e.listRequests(ctx, userID, domain.ShareBoxOutbox)
}

func (e *Engine) listRequests(ctx context.Context, userID, box string) ([]domain.ShareRequest, error) {
	atomes, err := e.ledger.List(ctx, store.Query{Type: domain.TypeShareRequest, OwnerID: userID})
	if err != nil {
		return nil, err
	}
	requests := make([]domain.ShareRequest, 0, len(atomes))
	for i := range atomes {
		request := decodeRequest(&atomes[i])
		if request == nil || request.Box != box {
			continue
		}
		requests = append(requests, *request)
	}
	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].Status == domain.ShareStatusPending && requests[j].Status != domain.ShareStatusPending
	})
	return requests, nil
}

// SharedWithMe lists atomes other users have granted userID access to.
// Expired grants and tombstoned atomes drop out.
func (e *Engine) SharedWithMe(ctx context.Context, userID string) ([]domain.Atome, error) {
	grants, err := e.ledger.ForPrincipal(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var atomes []domain.Atome
	for i := range grants {
		grant := grants[i]
		if !grant.CanRead || seen[grant.AtomeID] {
			continue
		}
		seen[grant.AtomeID] = true

		atome, err := e.ledger.Get(ctx, grant.AtomeID, false)
		if err != nil {
			if apierrors.Is(err, apierrors.CodeNotFound) {
				continue
			}
			return nil, err
		}
		if EffectiveOwner(atome) == userID {
			continue
		}
		atomes = append(atomes, *atome)
	}
	return atomes, nil
}

// Accessible lists everything userID can read: owned atomes of the given
// type plus atomes shared with them.
func (e *Engine) Accessible(ctx context.Context, userID, atomeType string) ([]domain.Atome, error) {
	owned, err := e.ledger.List(ctx, store.Query{Type: atomeType, OwnerID: userID})
	if err != nil {
		return nil, err
	}
	shared, err := e.SharedWithMe(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	result := make([]domain.Atome, 0, len(owned)+len(shared))
	for i := range owned {
		seen[owned[i].ID] = true
		result = append(result, owned[i])
	}
	for i := range shared {
		if seen[shared[i].ID] {
			continue
		}
		if atomeType != "" && shared[i].Type != atomeType {
			continue
		}
		result = append(result, shared[i])
	}
	return result, nil
}

// GetAtome fetches one atome after a read-permission check. Denied and
// absent look identical to the caller.
func (e *Engine) GetAtome(ctx context.Context, userID, atomeID string) (*domain.Atome, error) {
	allowed, err := e.CheckPermission(ctx, userID, atomeID, Read)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apierrors.NotFound("Atome not found", nil)
	}
	return e.ledger.Get(ctx, atomeID, false)
}

// MaskFromNames maps wire permission names onto the bitmask. Unknown
// names are rejected so a typo never silently passes a check.
func MaskFromNames(names []string) (Mask, error) {
	var mask Mask
	for _, name := range names {
		switch name {
		case "read":
			mask |= Read
		case "write", "alter":
			mask |= Write
		case "delete":
			mask |= Delete
		case "share":
			mask |= Share
		case "create":
			mask |= Create
		default:
			return 0, apierrors.Invalid("Unknown permission name", nil)
		}
	}
	if mask == 0 {
		mask = Read
	}
	return mask, nil
}
