package share

import (
	"context"
	"testing"

	"atome-store/internal/domain"
	apierrors "atome-store/internal/errors"
	"atome-store/internal/events"
	"atome-store/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedChild(t *testing.T, mem *store.Memory, id, atomeType, ownerID, parentID string) {
	t.Helper()
	parent := parentID
	err := mem.Create(context.Background(), &domain.Atome{
		ID:        id,
		Type:      atomeType,
		OwnerID:   ownerID,
		CreatorID: ownerID,
		ParentID:  &parent,
	})
	require.NoError(t, err)
}

func TestRequestRespond_LinkedRealtimeBecomesActive(t *testing.T) {
	engine, mem, bus := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, mem, "alice", "111", "public")
	seedUser(t, mem, "bob", "222", "public")
	seedAtome(t, mem, "shape", domain.TypeShape, "alice", nil)

	var resolutions []Resolution
	bus.On(events.ShareResolved, func(payload any) {
		resolutions = append(resolutions, payload.(Resolution))
	})

	request, err := engine.Request(ctx, "alice", RequestInput{
		Target:      "bob",
		AtomeIDs:    []string{"shape"},
		Permissions: domain.PermissionSet{Read: true, Alter: true},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ShareStatusPending, request.Status)
	assert.Equal(t, domain.ShareModeRealtime, request.Mode)
	assert.Equal(t, domain.ShareTypeLinked, request.ShareType)

	resolution, err := engine.Respond(ctx, "bob", request.RequestID, "accept", "", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ShareStatusActive, resolution.Request.Status)
	assert.True(t, resolution.LiveCreate)
	assert.Equal(t, []string{"shape"}, resolution.AtomeIDs)

	allowed, err := engine.CheckPermission(ctx, "bob", "shape", Read|Write)
	require.NoError(t, err)
	assert.True(t, allowed)

	// Both sides of the pair moved together.
	inbox, err := engine.Inbox(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, domain.ShareStatusActive, inbox[0].Status)

	outbox, err := engine.MyShares(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, outbox, 1)
	assert.Equal(t, domain.ShareStatusActive, outbox[0].Status)

	require.Len(t, resolutions, 1)
}

func TestRequest_ExpandsProjectRecursively(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, mem, "alice", "111", "public")
	seedUser(t, mem, "bob", "222", "public")
	seedAtome(t, mem, "project", domain.TypeProject, "alice", nil)
	seedChild(t, mem, "nested", domain.TypeProject, "alice", "project")
	seedChild(t, mem, "shape", domain.TypeShape, "alice", "nested")
	seedChild(t, mem, "policy", domain.TypeSharePolicy, "alice", "project")

	request, err := engine.Request(ctx, "alice", RequestInput{
		Target:   "bob",
		AtomeIDs: []string{"project"},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"project", "nested", "shape"}, request.AtomeIDs,
		"descendants included, share bookkeeping atomes exempt")
}

func TestRequest_ExpandsThroughNonProjectChildren(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, mem, "alice", "111", "public")
	seedUser(t, mem, "bob", "222", "public")
	seedAtome(t, mem, "project", domain.TypeProject, "alice", nil)
	seedChild(t, mem, "group", domain.TypeShape, "alice", "project")
	seedChild(t, mem, "leaf", domain.TypeShape, "alice", "group")
	seedChild(t, mem, "policy", domain.TypeSharePolicy, "alice", "group")

	request, err := engine.Request(ctx, "alice", RequestInput{
		Target:   "bob",
		AtomeIDs: []string{"project"},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"project", "group", "leaf"}, request.AtomeIDs,
		"descendants under a non-project child are included, exempt types still pruned")
}

func TestRequest_CannotShareUnowned(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, mem, "alice", "111", "public")
	seedUser(t, mem, "bob", "222", "public")
	seedAtome(t, mem, "shape", domain.TypeShape, "carol", nil)

	_, err := engine.Request(ctx, "alice", RequestInput{Target: "bob", AtomeIDs: []string{"shape"}})
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.CodeUnauthorized))
}

func TestRequest_SelfShareRejected(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	seedUser(t, mem, "alice", "111", "public")
	seedAtome(t, mem, "shape", domain.TypeShape, "alice", nil)

	_, err := engine.Request(context.Background(), "alice", RequestInput{Target: "alice", AtomeIDs: []string{"shape"}})
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.CodeInvalid))
}

func TestRequest_BlockPolicyRefuses(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, mem, "alice", "111", "public")
	seedUser(t, mem, "bob", "222", "public")
	seedAtome(t, mem, "shape", domain.TypeShape, "alice", nil)

	require.NoError(t, engine.SavePolicy(ctx, &domain.SharePolicy{
		OwnerID: "bob",
		PeerID:  "alice",
		Policy:  domain.PolicyBlock,
	}))

	_, err := engine.Request(ctx, "alice", RequestInput{Target: "bob", AtomeIDs: []string{"shape"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
}

func TestRequest_NeverPolicyAutoRejects(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, mem, "alice", "111", "public")
	seedUser(t, mem, "bob", "222", "public")
	seedAtome(t, mem, "shape", domain.TypeShape, "alice", nil)

	require.NoError(t, engine.SavePolicy(ctx, &domain.SharePolicy{
		OwnerID: "bob",
		PeerID:  "alice",
		Policy:  domain.PolicyNever,
	}))

	request, err := engine.Request(ctx, "alice", RequestInput{Target: "bob", AtomeIDs: []string{"shape"}})
	require.NoError(t, err)
	assert.Equal(t, domain.ShareStatusRejected, request.Status)

	allowed, err := engine.CheckPermission(ctx, "bob", "shape", Read)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRequest_AlwaysPolicyAutoAccepts(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, mem, "alice", "111", "public")
	seedUser(t, mem, "bob", "222", "public")
	seedAtome(t, mem, "shape", domain.TypeShape, "alice", nil)

	require.NoError(t, engine.SavePolicy(ctx, &domain.SharePolicy{
		OwnerID: "bob",
		PeerID:  "alice",
		Policy:  domain.PolicyAlways,
	}))

	request, err := engine.Request(ctx, "alice", RequestInput{
		Target:      "bob",
		AtomeIDs:    []string{"shape"},
		Permissions: domain.PermissionSet{Read: true},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ShareStatusActive, request.Status)

	allowed, err := engine.CheckPermission(ctx, "bob", "shape", Read)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRespond_CopyPreservesTopology(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, mem, "alice", "111", "public")
	seedUser(t, mem, "bob", "222", "public")
	seedAtome(t, mem, "project", domain.TypeProject, "alice", nil)
	seedChild(t, mem, "shape", domain.TypeShape, "alice", "project")
	seedAtome(t, mem, "receiver", domain.TypeProject, "bob", nil)

	request, err := engine.Request(ctx, "alice", RequestInput{
		Target:    "bob",
		AtomeIDs:  []string{"project"},
		ShareType: domain.ShareTypeCopy,
		Mode:      domain.ShareModeManual,
	})
	require.NoError(t, err)

	resolution, err := engine.Respond(ctx, "bob", request.RequestID, "accept", "receiver", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ShareStatusAccepted, resolution.Request.Status)
	require.Len(t, resolution.AtomeIDs, 2)

	var clonedProject, clonedShape *domain.Atome
	for _, id := range resolution.AtomeIDs {
		clone, err := mem.Get(ctx, id, false)
		require.NoError(t, err)
		assert.Equal(t, "bob", clone.OwnerID)
		assert.Equal(t, "alice", clone.CreatorID)
		switch clone.Type {
		case domain.TypeProject:
			clonedProject = clone
		case domain.TypeShape:
			clonedShape = clone
		}
	}
	require.NotNil(t, clonedProject)
	require.NotNil(t, clonedShape)
	require.NotNil(t, clonedShape.ParentID)
	assert.Equal(t, clonedProject.ID, *clonedShape.ParentID, "child reparented onto the cloned project")

	// Originals untouched, no grants created for a copy share.
	original, err := mem.Get(ctx, "shape", false)
	require.NoError(t, err)
	assert.Equal(t, "alice", original.OwnerID)
	allowed, err := engine.CheckPermission(ctx, "bob", "shape", Read)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRespond_OnlyInboxOwnerAndOnlyOnce(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, mem, "alice", "111", "public")
	seedUser(t, mem, "bob", "222", "public")
	seedAtome(t, mem, "shape", domain.TypeShape, "alice", nil)

	request, err := engine.Request(ctx, "alice", RequestInput{Target: "bob", AtomeIDs: []string{"shape"}})
	require.NoError(t, err)

	_, err = engine.Respond(ctx, "alice", request.RequestID, "accept", "", nil)
	require.Error(t, err, "sharer cannot resolve their own outgoing request")

	_, err = engine.Respond(ctx, "bob", request.RequestID, "accept", "", nil)
	require.NoError(t, err)

	_, err = engine.Respond(ctx, "bob", request.RequestID, "accept", "", nil)
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.CodeConflict))
}

func TestPublish_ManualLinkedOnly(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, mem, "alice", "111", "public")
	seedUser(t, mem, "bob", "222", "public")
	seedAtome(t, mem, "shape", domain.TypeShape, "alice", nil)

	request, err := engine.Request(ctx, "alice", RequestInput{
		Target:   "bob",
		AtomeIDs: []string{"shape"},
		Mode:     domain.ShareModeManual,
	})
	require.NoError(t, err)

	_, err = engine.Publish(ctx, "alice", request.RequestID)
	require.Error(t, err, "publish before accept conflicts")

	_, err = engine.Respond(ctx, "bob", request.RequestID, "accept", "", nil)
	require.NoError(t, err)

	resolution, err := engine.Publish(ctx, "alice", request.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "publish", resolution.Decision)
	assert.True(t, resolution.LiveCreate)
	assert.Equal(t, []string{"shape"}, resolution.AtomeIDs)

	_, err = engine.Publish(ctx, "bob", request.RequestID)
	require.Error(t, err, "only the sharer may publish")
}

func TestResolveTarget_PrivateProfileFailsClosed(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, mem, "alice", "111", "public")
	seedUser(t, mem, "bob", "222", "private")
	seedAtome(t, mem, "shape", domain.TypeShape, "alice", nil)

	_, err := engine.Request(ctx, "alice", RequestInput{Target: "222", AtomeIDs: []string{"shape"}})
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.CodeNotFound), "private profile looks absent")

	// An 'always' policy held by the private user opens the door.
	require.NoError(t, engine.SavePolicy(ctx, &domain.SharePolicy{
		OwnerID: "bob",
		PeerID:  "alice",
		Policy:  domain.PolicyAlways,
	}))
	request, err := engine.Request(ctx, "alice", RequestInput{
		Target:      "222",
		AtomeIDs:    []string{"shape"},
		Permissions: domain.PermissionSet{Read: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "bob", request.TargetUserID)
}

func TestSharedWithMeAndAccessible(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	ctx := context.Background()
	seedUser(t, mem, "alice", "111", "public")
	seedUser(t, mem, "bob", "222", "public")
	seedAtome(t, mem, "shared-shape", domain.TypeShape, "alice", nil)
	seedAtome(t, mem, "own-shape", domain.TypeShape, "bob", nil)

	request, err := engine.Request(ctx, "alice", RequestInput{
		Target:      "bob",
		AtomeIDs:    []string{"shared-shape"},
		Permissions: domain.PermissionSet{Read: true},
	})
	require.NoError(t, err)
	_, err = engine.Respond(ctx, "bob", request.RequestID, "accept", "", nil)
	require.NoError(t, err)

	shared, err := engine.SharedWithMe(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, "shared-shape", shared[0].ID)

	accessible, err := engine.Accessible(ctx, "bob", domain.TypeShape)
	require.NoError(t, err)
	ids := make([]string, 0, len(accessible))
	for _, a := range accessible {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []string{"own-shape", "shared-shape"}, ids)
}
