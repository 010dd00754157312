// Package atome is the sync orchestrator: every mutation lands on the
// primary backend first, then mirrors to the secondary on a best-effort
// basis. Callers always receive one envelope per backend.
package atome

import (
	"context"
	"log"
	"time"

	"atome-store/internal/domain"
	apierrors "atome-store/internal/errors"
	"atome-store/internal/events"
	"atome-store/internal/share"
	"atome-store/internal/store"

	"github.com/google/uuid"
)

// Mirror outcome strings carried in the secondary envelope.
const (
	reasonSkipped       = "skipped"
	reasonUnavailable   = "secondary_unavailable"
	reasonUserMismatch  = "secondary_user_mismatch"
	reasonNotFound      = "not_found_on_secondary"
	reasonPrimaryFailed = "primary_failed"
)

// BackendResult is one backend's half of a dual write.
type BackendResult struct {
	Backend        string `json:"backend"`
	Success        bool   `json:"success"`
	Data           any    `json:"data,omitempty"`
	Error          string `json:"error,omitempty"`
	Skipped        bool   `json:"skipped,omitempty"`
	AlreadyDeleted bool   `json:"alreadyDeleted,omitempty"`
}

// DualResult reports both halves of a mutation. Primary failure is the
// only fatal case; a failed mirror leaves Primary intact.
type DualResult struct {
	Primary   BackendResult `json:"primary"`
	Secondary BackendResult `json:"secondary"`
}

// IdentitySource exposes the caller's resolved identity to the
// orchestrator. The session manager implements it.
type IdentitySource interface {
	UserID() string
	Anonymous() bool
}

// Mutation is the payload emitted on events.AtomeMutated.
type Mutation struct {
	Kind     domain.OpKind
	Atome    domain.Atome
	AuthorID string
	// Ephemeral patches skip the secondary and carry only changed keys.
	Patch map[string]any
	// Origin names the connection that caused the mutation, when known.
	Origin string
}

// Service coordinates the primary ledger and the optional secondary
// mirror.
type Service struct {
	primary   store.Ledger
	secondary store.Adapter
	engine    *share.Engine
	identity  IdentitySource
	bus       *events.Bus
	pending   *PendingQueue
	// localFirst is true when the primary is the embedded store and the
	// secondary is the remote. Remote-first runtimes never mirror.
	localFirst    bool
	mirrorTimeout time.Duration
}

func NewService(primary store.Ledger, secondary store.Adapter, engine *share.Engine, identity IdentitySource, bus *events.Bus, pending *PendingQueue, localFirst bool, mirrorTimeout time.Duration) *Service {
	if mirrorTimeout <= 0 {
		mirrorTimeout = 2500 * time.Millisecond
	}
	return &Service{
		primary:       primary,
		secondary:     secondary,
		engine:        engine,
		identity:      identity,
		bus:           bus,
		pending:       pending,
		localFirst:    localFirst,
		mirrorTimeout: mirrorTimeout,
	}
}

// CreateInput is a new atome before id assignment.
type CreateInput struct {
	ID        string
	Type      string
	OwnerID   string
	ParentID  string
	Particles map[string]any
}

// Create writes the atome to the primary, inherits parent grants, then
// mirrors. The caller becomes creator; OwnerID defaults to the caller.
func (s *Service) Create(ctx context.Context, callerID string, input CreateInput) (*DualResult, error) {
	if input.Type == "" {
		return nil, apierrors.Invalid("Atome type is required", nil)
	}
	ownerID := input.OwnerID
	if ownerID == "" {
		ownerID = callerID
	}
	if ownerID == "" {
		return nil, apierrors.Unauthenticated("No resolved identity", nil)
	}

	if input.ParentID != "" && callerID != "" {
		allowed, err := s.engine.CheckPermission(ctx, callerID, input.ParentID, share.Create)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, apierrors.Unauthorized("No create permission on parent", nil)
		}
	}

	atome := &domain.Atome{
		ID:        input.ID,
		Type:      input.Type,
		OwnerID:   ownerID,
		CreatorID: callerID,
		Particles: input.Particles,
	}
	if atome.ID == "" {
		atome.ID = uuid.NewString()
	}
	if atome.CreatorID == "" {
		atome.CreatorID = ownerID
	}
	if input.ParentID != "" {
		parent := input.ParentID
		atome.ParentID = &parent
	}

	result := &DualResult{}
	if err := s.primary.Create(ctx, atome); err != nil {
		result.Primary = failure(s.primary.Name(), err)
		return result, apierrors.Internal(reasonPrimaryFailed, err)
	}

	created, err := s.primary.Get(ctx, atome.ID, false)
	if err != nil {
		created = atome
	}
	result.Primary = success(s.primary.Name(), created)

	if input.ParentID != "" {
		if err := s.engine.InheritFromParent(ctx, input.ParentID, atome.ID, ownerID, callerID); err != nil {
			log.Printf("[ATOME] permission inheritance failed for %s: %v", atome.ID, err)
		}
	}

	result.Secondary = s.mirror(ctx, ownerID, func(mctx context.Context) error {
		err := s.secondary.Create(mctx, atome)
		if apierrors.Is(err, apierrors.CodeAlreadyExists) {
			// The mirror already holds it; the intent is satisfied.
			return nil
		}
		return err
	})
	if result.Secondary.Error == reasonUnavailable {
		s.pending.Enqueue(domain.PendingOperation{AtomeID: atome.ID, OwnerID: ownerID, Kind: domain.OpCreate, QueuedAt: time.Now().UTC()})
	}

	s.bus.Emit(events.AtomeMutated, Mutation{Kind: domain.OpCreate, Atome: *created, AuthorID: callerID, Origin: OriginFrom(ctx)})
	return result, nil
}

// Get reads from the primary after a read check. An atome the primary
// does not know yet falls back to the mirror, owner only, so a fresh
// device sees remote work before the next full sync.
func (s *Service) Get(ctx context.Context, callerID, atomeID string) (*domain.Atome, error) {
	atome, err := s.engine.GetAtome(ctx, callerID, atomeID)
	if err == nil || !apierrors.Is(err, apierrors.CodeNotFound) {
		return atome, err
	}
	if !s.mirrorEligible(callerID) {
		return nil, err
	}

	mctx, cancel := context.WithTimeout(ctx, s.mirrorTimeout)
	defer cancel()
	remote, rerr := s.secondary.Get(mctx, atomeID, false)
	if rerr != nil {
		return nil, err
	}
	if share.EffectiveOwner(remote) != callerID {
		return nil, err
	}
	return remote, nil
}

// GetTombstoned reads an atome regardless of its tombstone. Owner only.
func (s *Service) GetTombstoned(ctx context.Context, callerID, atomeID string) (*domain.Atome, error) {
	atome, err := s.primary.Get(ctx, atomeID, true)
	if err != nil {
		return nil, err
	}
	if share.EffectiveOwner(atome) != callerID {
		return nil, apierrors.NotFound("Atome not found", nil)
	}
	return atome, nil
}

// Alter shallow-merges patch on the primary and mirrors. A mirror copy
// that never arrived reports not_found_on_secondary and is skipped.
func (s *Service) Alter(ctx context.Context, callerID, atomeID string, patch map[string]any) (*DualResult, error) {
	if len(patch) == 0 {
		return nil, apierrors.Invalid("Empty patch", nil)
	}
	// Absence before authorization: a mirror peer replaying against a copy
	// it never had must see not_found, not a permission failure.
	if _, err := s.primary.Get(ctx, atomeID, false); err != nil {
		return nil, err
	}
	allowed, err := s.engine.CheckPermission(ctx, callerID, atomeID, share.Write)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apierrors.Unauthorized("No write permission", nil)
	}

	result := &DualResult{}
	updated, err := s.primary.Update(ctx, atomeID, patch, callerID)
	if err != nil {
		result.Primary = failure(s.primary.Name(), err)
		if apierrors.Is(err, apierrors.CodeNotFound) {
			return result, err
		}
		return result, apierrors.Internal(reasonPrimaryFailed, err)
	}
	result.Primary = success(s.primary.Name(), updated)

	owner, ownerErr := s.engine.EffectiveOwnerID(ctx, atomeID)
	if ownerErr != nil {
		owner = callerID
	}
	result.Secondary = s.mirror(ctx, owner, func(mctx context.Context) error {
		_, err := s.secondary.Update(mctx, atomeID, patch, callerID)
		return err
	})
	if result.Secondary.Error == reasonNotFound {
		result.Secondary.Skipped = true
	}
	if result.Secondary.Error == reasonUnavailable {
		s.pending.Enqueue(domain.PendingOperation{AtomeID: atomeID, OwnerID: owner, Kind: domain.OpAlter, QueuedAt: time.Now().UTC()})
	}

	s.bus.Emit(events.AtomeMutated, Mutation{Kind: domain.OpAlter, Atome: *updated, AuthorID: callerID, Patch: patch, Origin: OriginFrom(ctx)})
	return result, nil
}

// RealtimePatch fans an ephemeral patch out to live subscribers. It is
// broadcast only: neither backend is written and no version row appears.
// Durable state follows via Alter.
func (s *Service) RealtimePatch(ctx context.Context, callerID, atomeID string, patch map[string]any) (*domain.Atome, error) {
	if len(patch) == 0 {
		return nil, apierrors.Invalid("Empty patch", nil)
	}
	allowed, err := s.engine.CheckPermission(ctx, callerID, atomeID, share.Write)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apierrors.Unauthorized("No write permission", nil)
	}
	// Read-only snapshot for the broadcast envelope.
	current, err := s.primary.Get(ctx, atomeID, false)
	if err != nil {
		return nil, err
	}
	s.bus.Emit(events.AtomeMutated, Mutation{Kind: domain.OpPatch, Atome: *current, AuthorID: callerID, Patch: patch, Origin: OriginFrom(ctx)})
	return current, nil
}

// Delete tombstones on the primary and mirrors. A mirror that has already
// forgotten the atome counts as deleted; an unreachable mirror queues the
// delete for a later drain.
func (s *Service) Delete(ctx context.Context, callerID, atomeID string) (*DualResult, error) {
	if _, err := s.primary.Get(ctx, atomeID, false); err != nil {
		return nil, err
	}
	allowed, err := s.engine.CheckPermission(ctx, callerID, atomeID, share.Delete)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apierrors.Unauthorized("No delete permission", nil)
	}

	owner, ownerErr := s.engine.EffectiveOwnerID(ctx, atomeID)
	if ownerErr != nil {
		owner = callerID
	}

	result := &DualResult{}
	if err := s.primary.SoftDelete(ctx, atomeID); err != nil {
		result.Primary = failure(s.primary.Name(), err)
		if apierrors.Is(err, apierrors.CodeNotFound) {
			return result, err
		}
		return result, apierrors.Internal(reasonPrimaryFailed, err)
	}
	result.Primary = success(s.primary.Name(), map[string]string{"atome_id": atomeID})

	result.Secondary = s.mirror(ctx, owner, func(mctx context.Context) error {
		return s.secondary.SoftDelete(mctx, atomeID)
	})
	if result.Secondary.Error == reasonNotFound {
		result.Secondary = BackendResult{Backend: s.secondary.Name(), Success: true, AlreadyDeleted: true}
	}
	if result.Secondary.Error == reasonUnavailable {
		s.pending.Enqueue(domain.PendingOperation{AtomeID: atomeID, OwnerID: owner, Kind: domain.OpDelete, QueuedAt: time.Now().UTC()})
	}

	s.bus.Emit(events.AtomeMutated, Mutation{Kind: domain.OpDelete, Atome: domain.Atome{ID: atomeID, OwnerID: owner}, AuthorID: callerID, Origin: OriginFrom(ctx)})
	return result, nil
}

// List serves the caller's atomes from the primary. IncludeShared widens
// the answer: the secondary is merged in when reachable, and atomes other
// users shared with the caller join the result.
func (s *Service) List(ctx context.Context, callerID string, q store.Query) ([]domain.Atome, error) {
	merged, err := s.primary.List(ctx, q)
	if err != nil {
		return nil, err
	}
	if !q.IncludeShared {
		return merged, nil
	}

	if s.mirrorEligible(q.OwnerID) {
		mctx, cancel := context.WithTimeout(ctx, s.mirrorTimeout)
		defer cancel()
		secondary, err := s.secondary.List(mctx, q)
		if err != nil {
			log.Printf("[ATOME] secondary list failed, serving primary only: %v", err)
		} else {
			merged = mergeLists(merged, secondary, q.OwnerID)
		}
	}

	shared, err := s.engine.SharedWithMe(ctx, callerID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(merged))
	for i := range merged {
		seen[merged[i].ID] = true
	}
	for i := range shared {
		if seen[shared[i].ID] {
			continue
		}
		if q.Type != "" && shared[i].Type != q.Type {
			continue
		}
		if q.ParentID != "" && (shared[i].ParentID == nil || *shared[i].ParentID != q.ParentID) {
			continue
		}
		merged = append(merged, shared[i])
	}
	return merged, nil
}

// mirror runs op against the secondary under the mirror timeout, mapping
// ineligibility and failures onto the envelope vocabulary.
func (s *Service) mirror(ctx context.Context, ownerID string, op func(context.Context) error) BackendResult {
	name := "none"
	if s.secondary != nil {
		name = s.secondary.Name()
	}

	if s.secondary == nil || !s.localFirst || (s.identity != nil && s.identity.Anonymous()) {
		return BackendResult{Backend: name, Skipped: true, Error: reasonSkipped}
	}

	probe, cancel := context.WithTimeout(ctx, s.mirrorTimeout)
	defer cancel()
	if !s.secondary.Available(probe) {
		return BackendResult{Backend: name, Skipped: true, Error: reasonUnavailable}
	}
	if !s.secondary.HasCredential(ownerID) {
		return BackendResult{Backend: name, Skipped: true, Error: reasonUserMismatch}
	}

	mctx, mcancel := context.WithTimeout(ctx, s.mirrorTimeout)
	defer mcancel()
	if err := op(mctx); err != nil {
		if apierrors.Is(err, apierrors.CodeUnavailable) {
			return BackendResult{Backend: name, Success: false, Error: reasonUnavailable}
		}
		if apierrors.Is(err, apierrors.CodeNotFound) {
			return BackendResult{Backend: name, Success: false, Error: reasonNotFound}
		}
		return BackendResult{Backend: name, Success: false, Error: err.Error()}
	}
	return BackendResult{Backend: name, Success: true}
}

func (s *Service) mirrorEligible(ownerID string) bool {
	if s.secondary == nil || !s.localFirst {
		return false
	}
	if s.identity != nil && s.identity.Anonymous() {
		return false
	}
	if ownerID != "" && !s.secondary.HasCredential(ownerID) {
		return false
	}
	return true
}

func success(backend string, data any) BackendResult {
	return BackendResult{Backend: backend, Success: true, Data: data}
}

func failure(backend string, err error) BackendResult {
	return BackendResult{Backend: backend, Success: false, Error: err.Error()}
}
