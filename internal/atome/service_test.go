package atome

import (
	"context"
	"testing"
	"time"

	"atome-store/internal/domain"
	apierrors "atome-store/internal/errors"
	"atome-store/internal/events"
	"atome-store/internal/share"
	"atome-store/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIdentity struct {
	userID    string
	anonymous bool
}

func (f *fakeIdentity) UserID() string  { return f.userID }
func (f *fakeIdentity) Anonymous() bool { return f.anonymous }

type fixture struct {
	service   *Service
	primary   *store.Memory
	secondary *store.Memory
	identity  *fakeIdentity
	pending   *PendingQueue
	bus       *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	primary := store.NewMemory("local")
	secondary := store.NewMemory("remote")
	bus := events.NewBus()
	engine := share.NewEngine(primary, bus)
	identity := &fakeIdentity{userID: "alice"}
	pending := NewPendingQueue(10)
	service := NewService(primary, secondary, engine, identity, bus, pending, true, 500*time.Millisecond)
	secondary.SetCredential("alice", true)
	return &fixture{service: service, primary: primary, secondary: secondary, identity: identity, pending: pending, bus: bus}
}

func TestCreate_MirrorsToSecondary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Create(ctx, "alice", CreateInput{
		Type:      domain.TypeShape,
		Particles: map[string]any{"kind": "circle"},
	})
	require.NoError(t, err)
	assert.True(t, result.Primary.Success)
	assert.True(t, result.Secondary.Success)

	created := result.Primary.Data.(*domain.Atome)
	mirrored, err := f.secondary.Get(ctx, created.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "circle", mirrored.Particles["kind"])
}

func TestCreate_SecondaryUnavailableSkips(t *testing.T) {
	f := newFixture(t)
	f.secondary.SetAvailable(false)

	result, err := f.service.Create(context.Background(), "alice", CreateInput{Type: domain.TypeShape})
	require.NoError(t, err, "primary success is enough")
	assert.True(t, result.Primary.Success)
	assert.True(t, result.Secondary.Skipped)
	assert.Equal(t, "secondary_unavailable", result.Secondary.Error)
}

func TestCreate_AnonymousNeverMirrors(t *testing.T) {
	f := newFixture(t)
	f.identity.anonymous = true

	result, err := f.service.Create(context.Background(), "anon-1", CreateInput{Type: domain.TypeShape})
	require.NoError(t, err)
	assert.True(t, result.Primary.Success)
	assert.True(t, result.Secondary.Skipped)
	assert.Equal(t, "skipped", result.Secondary.Error)
}

func TestCreate_CredentialMismatchSkips(t *testing.T) {
	f := newFixture(t)
	f.secondary.SetCredential("alice", false)

	result, err := f.service.Create(context.Background(), "alice", CreateInput{Type: domain.TypeShape})
	require.NoError(t, err)
	assert.True(t, result.Secondary.Skipped)
	assert.Equal(t, "secondary_user_mismatch", result.Secondary.Error)
}

func TestCreate_SecondaryAlreadyExistsCountsAsSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.secondary.Create(ctx, &domain.Atome{
		ID:      "a1",
		Type:    domain.TypeShape,
		OwnerID: "alice",
	}))

	result, err := f.service.Create(ctx, "alice", CreateInput{ID: "a1", Type: domain.TypeShape})
	require.NoError(t, err)
	assert.True(t, result.Primary.Success)
	assert.True(t, result.Secondary.Success, "an existing mirror copy satisfies the intent")
}

func TestAlter_NotFoundOnSecondarySkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Present on primary only, as if created while offline.
	require.NoError(t, f.primary.Create(ctx, &domain.Atome{
		ID:      "a1",
		Type:    domain.TypeShape,
		OwnerID: "alice",
	}))

	result, err := f.service.Alter(ctx, "alice", "a1", map[string]any{"kind": "square"})
	require.NoError(t, err)
	assert.True(t, result.Primary.Success)
	assert.False(t, result.Secondary.Success)
	assert.True(t, result.Secondary.Skipped)
	assert.Equal(t, "not_found_on_secondary", result.Secondary.Error)

	updated, err := f.primary.Get(ctx, "a1", false)
	require.NoError(t, err)
	assert.Equal(t, "square", updated.Particles["kind"])
}

func TestAlter_RequiresWritePermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.primary.Create(ctx, &domain.Atome{ID: "a1", Type: domain.TypeShape, OwnerID: "carol"}))

	_, err := f.service.Alter(ctx, "alice", "a1", map[string]any{"kind": "square"})
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.CodeUnauthorized))
}

func TestDelete_SecondaryMissingIsAlreadyDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.primary.Create(ctx, &domain.Atome{ID: "a1", Type: domain.TypeShape, OwnerID: "alice"}))

	result, err := f.service.Delete(ctx, "alice", "a1")
	require.NoError(t, err)
	assert.True(t, result.Primary.Success)
	assert.True(t, result.Secondary.Success)
	assert.True(t, result.Secondary.AlreadyDeleted)

	// Tombstoned, not gone.
	_, err = f.primary.Get(ctx, "a1", false)
	assert.True(t, apierrors.Is(err, apierrors.CodeNotFound))
	tombstoned, err := f.primary.Get(ctx, "a1", true)
	require.NoError(t, err)
	assert.True(t, tombstoned.Deleted())
}

func TestDelete_UnavailableSecondaryQueuesAndDrains(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.primary.Create(ctx, &domain.Atome{ID: "a1", Type: domain.TypeShape, OwnerID: "alice"}))
	require.NoError(t, f.secondary.Create(ctx, &domain.Atome{ID: "a1", Type: domain.TypeShape, OwnerID: "alice"}))

	f.secondary.SetAvailable(false)
	result, err := f.service.Delete(ctx, "alice", "a1")
	require.NoError(t, err)
	assert.Equal(t, "secondary_unavailable", result.Secondary.Error)
	assert.Equal(t, 1, f.pending.Len())

	// Deleting again queues nothing new and the queue dedupes.
	f.pending.Enqueue(domain.PendingOperation{AtomeID: "a1", Kind: domain.OpDelete})
	assert.Equal(t, 1, f.pending.Len())

	f.secondary.SetAvailable(true)
	f.pending.Drain(ctx, f.primary, f.secondary)
	assert.Equal(t, 0, f.pending.Len())

	_, err = f.secondary.Get(ctx, "a1", false)
	assert.True(t, apierrors.Is(err, apierrors.CodeNotFound))

	// A second drain is a no-op.
	f.pending.Drain(ctx, f.primary, f.secondary)
	assert.Equal(t, 0, f.pending.Len())
}

func TestCreate_UnavailableSecondaryQueuesAndDrains(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.secondary.SetAvailable(false)
	result, err := f.service.Create(ctx, "alice", CreateInput{
		ID:        "a1",
		Type:      domain.TypeShape,
		Particles: map[string]any{"kind": "circle"},
	})
	require.NoError(t, err)
	assert.Equal(t, "secondary_unavailable", result.Secondary.Error)
	require.Equal(t, 1, f.pending.Len())

	f.secondary.SetAvailable(true)
	f.pending.Drain(ctx, f.primary, f.secondary)
	assert.Equal(t, 0, f.pending.Len())

	mirrored, err := f.secondary.Get(ctx, "a1", false)
	require.NoError(t, err)
	assert.Equal(t, "circle", mirrored.Particles["kind"])

	// Replaying against a mirror that caught up in the meantime is a no-op.
	f.pending.Enqueue(domain.PendingOperation{AtomeID: "a1", OwnerID: "alice", Kind: domain.OpCreate})
	f.pending.Drain(ctx, f.primary, f.secondary)
	assert.Equal(t, 0, f.pending.Len())
}

func TestGet_FallsBackToSecondaryForOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Present on the mirror only, as if created from another device.
	require.NoError(t, f.secondary.Create(ctx, &domain.Atome{
		ID: "a1", Type: domain.TypeShape, OwnerID: "alice",
		Particles: map[string]any{"kind": "circle"},
	}))

	fetched, err := f.service.Get(ctx, "alice", "a1")
	require.NoError(t, err)
	assert.Equal(t, "circle", fetched.Particles["kind"])

	// A foreign caller still sees not found.
	_, err = f.service.Get(ctx, "carol", "a1")
	assert.True(t, apierrors.Is(err, apierrors.CodeNotFound))
}

func TestList_MergesNewerWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.primary.Create(ctx, &domain.Atome{
		ID: "a1", Type: domain.TypeShape, OwnerID: "alice",
		Particles: map[string]any{"kind": "old"},
	}))
	require.NoError(t, f.secondary.Create(ctx, &domain.Atome{
		ID: "a1", Type: domain.TypeShape, OwnerID: "alice",
		Particles: map[string]any{"kind": "old"},
	}))
	require.NoError(t, f.secondary.Create(ctx, &domain.Atome{
		ID: "a2", Type: domain.TypeShape, OwnerID: "alice",
	}))

	// The secondary copy of a1 is updated later and must win the merge.
	time.Sleep(2 * time.Millisecond)
	_, err := f.secondary.Update(ctx, "a1", map[string]any{"kind": "new"}, "alice")
	require.NoError(t, err)

	atomes, err := f.service.List(ctx, "alice", store.Query{Type: domain.TypeShape, OwnerID: "alice", IncludeShared: true})
	require.NoError(t, err)
	require.Len(t, atomes, 2)

	byID := map[string]domain.Atome{}
	for _, a := range atomes {
		byID[a.ID] = a
	}
	assert.Equal(t, "new", byID["a1"].Particles["kind"])
	assert.Contains(t, byID, "a2", "secondary-only atomes appear in the merge")
}

func TestList_IncludeSharedGatesMergeAndFoldsGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := share.NewEngine(f.primary, f.bus)

	require.NoError(t, f.primary.Create(ctx, &domain.Atome{ID: "mine", Type: domain.TypeShape, OwnerID: "alice"}))
	require.NoError(t, f.primary.Create(ctx, &domain.Atome{ID: "bobs", Type: domain.TypeShape, OwnerID: "bob"}))
	require.NoError(t, f.secondary.Create(ctx, &domain.Atome{ID: "remote-only", Type: domain.TypeShape, OwnerID: "alice"}))
	_, err := engine.CreateShare(ctx, "bob", "bobs", "alice", domain.PermissionSet{Read: true}, share.GrantOptions{})
	require.NoError(t, err)

	// Without the flag the primary answers alone with owned rows.
	owned, err := f.service.List(ctx, "alice", store.Query{Type: domain.TypeShape, OwnerID: "alice"})
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "mine", owned[0].ID)

	// With the flag the secondary merges in and shared atomes join.
	widened, err := f.service.List(ctx, "alice", store.Query{Type: domain.TypeShape, OwnerID: "alice", IncludeShared: true})
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, a := range widened {
		ids[a.ID] = true
	}
	assert.True(t, ids["mine"])
	assert.True(t, ids["remote-only"], "secondary rows appear only when shared results are requested")
	assert.True(t, ids["bobs"], "atomes shared with the caller join the widened list")
	assert.Len(t, widened, 3)

	// A type filter still applies to the folded shares.
	require.NoError(t, f.primary.Create(ctx, &domain.Atome{ID: "bobs-doc", Type: domain.TypeFile, OwnerID: "bob"}))
	_, err = engine.CreateShare(ctx, "bob", "bobs-doc", "alice", domain.PermissionSet{Read: true}, share.GrantOptions{})
	require.NoError(t, err)
	shapes, err := f.service.List(ctx, "alice", store.Query{Type: domain.TypeShape, OwnerID: "alice", IncludeShared: true})
	require.NoError(t, err)
	for _, a := range shapes {
		assert.NotEqual(t, "bobs-doc", a.ID)
	}
}

func TestRealtimePatch_BroadcastsWithoutPersisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.primary.Create(ctx, &domain.Atome{
		ID: "a1", Type: domain.TypeShape, OwnerID: "alice",
		Particles: map[string]any{"x": float64(1)},
	}))

	var got Mutation
	f.bus.On(events.AtomeMutated, func(payload any) {
		if m, ok := payload.(Mutation); ok && m.Kind == domain.OpPatch {
			got = m
		}
	})

	snapshot, err := f.service.RealtimePatch(ctx, "alice", "a1", map[string]any{"x": float64(99)})
	require.NoError(t, err)
	assert.Equal(t, float64(1), snapshot.Particles["x"], "the snapshot reflects stored state, not the patch")

	// Stored state and the version ledger are untouched.
	stored, err := f.primary.Get(ctx, "a1", false)
	require.NoError(t, err)
	assert.Equal(t, float64(1), stored.Particles["x"])
	history, err := f.primary.History(ctx, "a1", "x", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1, "only the create row exists")

	// Subscribers still hear the ephemeral change.
	assert.Equal(t, "a1", got.Atome.ID)
	assert.Equal(t, float64(99), got.Patch["x"])
	assert.Equal(t, "alice", got.AuthorID)
}

func TestList_TombstonesExcluded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.primary.Create(ctx, &domain.Atome{ID: "a1", Type: domain.TypeShape, OwnerID: "alice"}))
	require.NoError(t, f.primary.Create(ctx, &domain.Atome{ID: "a2", Type: domain.TypeShape, OwnerID: "alice"}))
	require.NoError(t, f.primary.SoftDelete(ctx, "a2"))
	f.secondary.SetAvailable(false)

	atomes, err := f.service.List(ctx, "alice", store.Query{Type: domain.TypeShape, OwnerID: "alice"})
	require.NoError(t, err)
	require.Len(t, atomes, 1)
	assert.Equal(t, "a1", atomes[0].ID)
}

func TestMergeLists_TieKeepsPrimaryAndFiltersOwner(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	primary := []domain.Atome{
		{ID: "a1", OwnerID: "alice", UpdatedAt: at, Particles: map[string]any{"src": "primary"}},
	}
	secondary := []domain.Atome{
		{ID: "a1", OwnerID: "alice", UpdatedAt: at, Particles: map[string]any{"src": "secondary"}},
		{ID: "a2", OwnerID: "mallory", UpdatedAt: at},
	}

	merged := mergeLists(primary, secondary, "alice")
	require.Len(t, merged, 1)
	assert.Equal(t, "primary", merged[0].Particles["src"], "exact timestamp tie keeps the primary copy")
}

func TestMigrate_MovesBothBackends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.primary.Create(ctx, &domain.Atome{ID: "a1", Type: domain.TypeShape, OwnerID: "anon-1"}))
	require.NoError(t, f.primary.Create(ctx, &domain.Atome{ID: "a2", Type: domain.TypeShape, OwnerID: "anon-1"}))
	require.NoError(t, f.secondary.Create(ctx, &domain.Atome{ID: "a1", Type: domain.TypeShape, OwnerID: "anon-1"}))

	result, err := f.service.Migrate(ctx, "anon-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.PrimaryMoved)
	assert.Equal(t, int64(1), result.SecondaryMoved)

	moved, err := f.primary.Get(ctx, "a1", false)
	require.NoError(t, err)
	assert.Equal(t, "alice", moved.OwnerID)
}

func TestMigrate_SecondaryDownIsNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.primary.Create(ctx, &domain.Atome{ID: "a1", Type: domain.TypeShape, OwnerID: "anon-1"}))
	f.secondary.SetAvailable(false)

	result, err := f.service.Migrate(ctx, "anon-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.PrimaryMoved)
	assert.Equal(t, "secondary_unavailable", result.SecondaryError)
}

func TestCreate_ChildInheritsParentGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := share.NewEngine(f.primary, f.bus)

	require.NoError(t, f.primary.Create(ctx, &domain.Atome{ID: "project", Type: domain.TypeProject, OwnerID: "alice"}))
	_, err := engine.CreateShare(ctx, "alice", "project", "bob", domain.PermissionSet{Read: true, Create: true}, share.GrantOptions{})
	require.NoError(t, err)

	result, err := f.service.Create(ctx, "bob", CreateInput{
		Type:     domain.TypeShape,
		ParentID: "project",
	})
	require.NoError(t, err)
	created := result.Primary.Data.(*domain.Atome)

	// Alice, the parent owner, holds full rights on bob's child atome.
	allowed, err := engine.CheckPermission(ctx, "alice", created.ID, share.Admin)
	require.NoError(t, err)
	assert.True(t, allowed)
}
