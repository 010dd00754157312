package share

import (
	"context"
	"log"

	"atome-store/internal/domain"
	apierrors "atome-store/internal/errors"
	"atome-store/internal/events"
	"atome-store/internal/store"

	"github.com/google/uuid"
)

// RequestInput describes an offer to grant access to one or more atomes.
// Target is a user atome id or a phone number from the user directory.
type RequestInput struct {
	Target      string
	AtomeIDs    []string
	Permissions domain.PermissionSet
	Mode        string
	ShareType   string
}

// Notification payload emitted on events.ShareRequested.
type RequestNotice struct {
	Request domain.ShareRequest
}

// Resolution is the outcome of Respond, emitted on events.ShareResolved.
type Resolution struct {
	Request  domain.ShareRequest
	Decision string
	// AtomeIDs holds granted originals (linked) or created clones (copy).
	AtomeIDs []string
	// LiveCreate marks linked real-time accepts whose items should be
	// pushed as live create events.
	LiveCreate bool
}

// Request creates a linked inbox/outbox share_request pair and notifies
// the target. A 'block' policy held by the target rejects immediately; an
// 'always' policy auto-advances the request.
func (e *Engine) Request(ctx context.Context, sharerID string, input RequestInput) (*domain.ShareRequest, error) {
	if sharerID == "" {
		return nil, apierrors.Unauthenticated("No resolved identity", nil)
	}
	if input.Target == "" || len(input.AtomeIDs) == 0 {
		return nil, apierrors.Invalid("Target and atome ids are required", nil)
	}
	mode := input.Mode
	if mode == "" {
		mode = domain.ShareModeRealtime
	}
	shareType := input.ShareType
	if shareType == "" {
		shareType = domain.ShareTypeLinked
	}
	if mode != domain.ShareModeRealtime && mode != domain.ShareModeManual {
		return nil, apierrors.Invalid("Unknown share mode", nil)
	}
	if shareType != domain.ShareTypeLinked && shareType != domain.ShareTypeCopy {
		return nil, apierrors.Invalid("Unknown share type", nil)
	}

	targetID, err := e.resolveTarget(ctx, sharerID, input.Target)
	if err != nil {
		return nil, err
	}
	if targetID == sharerID {
		return nil, apierrors.Invalid("Cannot share with yourself", nil)
	}

	targetPolicy, err := e.FindPolicy(ctx, targetID, sharerID)
	if err != nil {
		return nil, err
	}
	if targetPolicy != nil && targetPolicy.Policy == domain.PolicyBlock {
		return nil, apierrors.Unauthorized("blocked", nil)
	}

	atomeIDs, err := e.expandAtomeIDs(ctx, sharerID, input.AtomeIDs)
	if err != nil {
		return nil, err
	}

	request := domain.ShareRequest{
		RequestID:    uuid.NewString(),
		SharerID:     sharerID,
		TargetUserID: targetID,
		AtomeIDs:     atomeIDs,
		Permissions:  input.Permissions,
		Mode:         mode,
		ShareType:    shareType,
		Status:       domain.ShareStatusPending,
	}

	inboxID := uuid.NewString()
	outboxID := uuid.NewString()

	outbox := request
	outbox.Box = domain.ShareBoxOutbox
	outbox.LinkedID = inboxID
	if err := e.ledger.Create(ctx, &domain.Atome{
		ID:        outboxID,
		Type:      domain.TypeShareRequest,
		OwnerID:   sharerID,
		CreatorID: sharerID,
		Particles: encodeRequest(&outbox),
	}); err != nil {
		return nil, err
	}

	inbox := request
	inbox.Box = domain.ShareBoxInbox
	inbox.LinkedID = outboxID
	if err := e.ledger.Create(ctx, &domain.Atome{
		ID:        inboxID,
		Type:      domain.TypeShareRequest,
		OwnerID:   targetID,
		CreatorID: sharerID,
		Particles: encodeRequest(&inbox),
	}); err != nil {
		return nil, err
	}

	if targetPolicy != nil && targetPolicy.Policy == domain.PolicyNever {
		if _, err := e.Respond(ctx, targetID, request.RequestID, "reject", "", nil); err != nil {
			log.Printf("[SHARE] auto-reject via never policy failed: %v", err)
		}
		request.Status = domain.ShareStatusRejected
		return &request, nil
	}

	if targetPolicy != nil && targetPolicy.Policy == domain.PolicyAlways {
		resolution, err := e.Respond(ctx, targetID, request.RequestID, "accept", "", nil)
		if err != nil {
			log.Printf("[SHARE] auto-accept via always policy failed: %v", err)
		} else {
			request.Status = resolution.Request.Status
		}
		return &request, nil
	}

	e.emitRequested(inbox)
	return &request, nil
}

func (e *Engine) emitRequested(request domain.ShareRequest) {
	e.bus.Emit(events.ShareRequested, RequestNotice{Request: request})
}

// Respond resolves a pending request. Only the inbox owner may respond.
// Accepting a copy share clones the atomes into the target's namespace;
// accepting a linked share grants permission rows instead. Inbox and
// outbox status move together as one logical step.
func (e *Engine) Respond(ctx context.Context, responderID, requestID, decision, receiverProjectID string, policy *domain.SharePolicy) (*Resolution, error) {
	inboxAtome, request, err := e.findRequest(ctx, requestID, domain.ShareBoxInbox)
	if err != nil {
		return nil, err
	}
	if inboxAtome.OwnerID != responderID {
		return nil, apierrors.Unauthorized("Only the inbox owner may respond", nil)
	}
	if request.Status != domain.ShareStatusPending {
		return nil, apierrors.Conflict("Share request already resolved", nil)
	}

	resolution := &Resolution{Request: *request, Decision: decision}

	switch decision {
	case "reject":
		resolution.Request.Status = domain.ShareStatusRejected

	case "accept":
		switch request.ShareType {
		case domain.ShareTypeCopy:
			cloned, err := e.cloneForTarget(ctx, request, receiverProjectID)
			if err != nil {
				return nil, err
			}
			resolution.AtomeIDs = cloned
			resolution.Request.Status = domain.ShareStatusAccepted

		case domain.ShareTypeLinked:
			granted, err := e.grantForRequest(ctx, request)
			if err != nil {
				return nil, err
			}
			resolution.AtomeIDs = granted
			if request.Mode == domain.ShareModeRealtime {
				resolution.Request.Status = domain.ShareStatusActive
				resolution.LiveCreate = true
			} else {
				resolution.Request.Status = domain.ShareStatusAccepted
			}

		default:
			return nil, apierrors.Invalid("Unknown share type", nil)
		}

	default:
		return nil, apierrors.Invalid("Decision must be accept or reject", nil)
	}

	if err := e.setPairStatus(ctx, inboxAtome, request, resolution.Request.Status); err != nil {
		return nil, err
	}

	if policy != nil {
		policy.OwnerID = responderID
		policy.PeerID = request.SharerID
		if err := e.SavePolicy(ctx, policy); err != nil {
			log.Printf("[SHARE] policy save failed: %v", err)
		}
	}

	e.bus.Emit(events.ShareResolved, *resolution)
	return resolution, nil
}

// Publish pushes the finalized item list of a manual linked share without
// further writes. Real-time shares reject this call.
func (e *Engine) Publish(ctx context.Context, sharerID, requestID string) (*Resolution, error) {
	_, request, err := e.findRequest(ctx, requestID, domain.ShareBoxOutbox)
	if err != nil {
		return nil, err
	}
	if request.SharerID != sharerID {
		return nil, apierrors.Unauthorized("Only the sharer may publish", nil)
	}
	if request.ShareType != domain.ShareTypeLinked || request.Mode != domain.ShareModeManual {
		return nil, apierrors.Invalid("Publish applies to manual linked shares only", nil)
	}
	if request.Status != domain.ShareStatusAccepted {
		return nil, apierrors.Conflict("Share request is not accepted", nil)
	}

	resolution := &Resolution{
		Request:    *request,
		Decision:   "publish",
		AtomeIDs:   request.AtomeIDs,
		LiveCreate: true,
	}
	e.bus.Emit(events.ShareResolved, *resolution)
	return resolution, nil
}

func (e *Engine) grantForRequest(ctx context.Context, request *domain.ShareRequest) ([]string, error) {
	granted := make([]string, 0, len(request.AtomeIDs))
	for _, atomeID := range request.AtomeIDs {
		perm := &domain.Permission{
			AtomeID:     atomeID,
			PrincipalID: request.TargetUserID,
			CanRead:     request.Permissions.Read,
			CanWrite:    request.Permissions.Alter,
			CanDelete:   request.Permissions.Delete,
			CanCreate:   request.Permissions.Create,
			GrantedBy:   request.SharerID,
			GrantedAt:   e.now(),
			ShareMode:   request.Mode,
		}
		if err := e.ledger.Grant(ctx, perm); err != nil {
			return granted, err
		}
		granted = append(granted, atomeID)
		e.bus.Emit(events.PermissionChanged, PermissionChange{AtomeID: atomeID, PrincipalID: request.TargetUserID})
	}
	return granted, nil
}

// setPairStatus updates inbox and outbox together as one logical step.
func (e *Engine) setPairStatus(ctx context.Context, inboxAtome *domain.Atome, request *domain.ShareRequest, status string) error {
	patch := map[string]any{"status": status}
	if _, err := e.ledger.Update(ctx, inboxAtome.ID, patch, request.TargetUserID); err != nil {
		return err
	}
	if request.LinkedID != "" {
		if _, err := e.ledger.Update(ctx, request.LinkedID, patch, request.TargetUserID); err != nil {
			// The inbox already moved; a dangling outbox status is repaired
			// on the next read, not rolled back.
			log.Printf("[SHARE] outbox status update failed for %s: %v", request.LinkedID, err)
		}
	}
	return nil
}

func (e *Engine) findRequest(ctx context.Context, requestID, box string) (*domain.Atome, *domain.ShareRequest, error) {
	atomes, err := e.ledger.List(ctx, store.Query{Type: domain.TypeShareRequest})
	if err != nil {
		return nil, nil, err
	}
	for i := range atomes {
		request := decodeRequest(&atomes[i])
		if request == nil || request.RequestID != requestID {
			continue
		}
		if box != "" && request.Box != box {
			continue
		}
		return &atomes[i], request, nil
	}
	return nil, nil, apierrors.NotFound("Share request not found", nil)
}

// expandAtomeIDs resolves the requested ids, recursively including every
// non-exempt descendant, and verifies the sharer may share each atome.
// An exempt type prunes its whole subtree.
func (e *Engine) expandAtomeIDs(ctx context.Context, sharerID string, ids []string) ([]string, error) {
	seen := map[string]bool{}
	var expanded []string

	var add func(atome *domain.Atome) error
	add = func(atome *domain.Atome) error {
		if seen[atome.ID] || domain.ShareExempt(atome.Type) {
			return nil
		}
		seen[atome.ID] = true
		expanded = append(expanded, atome.ID)

		children, err := e.ledger.List(ctx, store.Query{ParentID: atome.ID})
		if err != nil {
			return err
		}
		for i := range children {
			if err := add(&children[i]); err != nil {
				return err
			}
		}
		return nil
	}

	for _, id := range ids {
		atome, err := e.ledger.Get(ctx, id, false)
		if err != nil {
			return nil, err
		}
		allowed, err := e.canGrant(ctx, sharerID, atome.ID)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, apierrors.Unauthorized("Cannot share atomes you do not own", nil)
		}
		if err := add(atome); err != nil {
			return nil, err
		}
	}
	return expanded, nil
}

// resolveTarget maps a user id or phone number to a user atome id.
// Private profiles fail closed unless the target already granted the
// sharer an 'always' policy.
func (e *Engine) resolveTarget(ctx context.Context, sharerID, target string) (string, error) {
	resolved, err := e.lookupUser(ctx, target)
	if err != nil {
		return "", err
	}
	if resolved == nil {
		return "", apierrors.NotFound("Target user not found", nil)
	}

	visibility, _ := resolved.Particles["visibility"].(string)
	if visibility == "private" {
		policy, err := e.FindPolicy(ctx, resolved.ID, sharerID)
		if err != nil {
			return "", err
		}
		if policy == nil || policy.Policy != domain.PolicyAlways {
			// Fail closed: do not reveal that the profile exists.
			return "", apierrors.NotFound("Target user not found", nil)
		}
	}
	return resolved.ID, nil
}

func (e *Engine) lookupUser(ctx context.Context, target string) (*domain.Atome, error) {
	if atome, err := e.ledger.Get(ctx, target, false); err == nil && atome.Type == domain.TypeUser {
		return atome, nil
	}
	users, err := e.ledger.List(ctx, store.Query{Type: domain.TypeUser})
	if err != nil {
		return nil, err
	}
	for i := range users {
		if phone, ok := users[i].Particles["phone"].(string); ok && phone == target {
			return &users[i], nil
		}
	}
	return nil, nil
}
