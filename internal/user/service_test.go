package user

import (
	"context"
	"testing"

	apierrors "atome-store/internal/errors"
	"atome-store/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory("local")
	return NewService(mem), mem
}

func TestRegisterAndLogin(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	profile, err := service.Register(ctx, "0612345678", "Alice", "secret123")
	require.NoError(t, err)
	assert.NotEmpty(t, profile.ID)
	assert.Equal(t, "public", profile.Visibility)

	logged, err := service.Login(ctx, "0612345678", "secret123")
	require.NoError(t, err)
	assert.Equal(t, profile.ID, logged.ID)

	_, err = service.Login(ctx, "0612345678", "wrong")
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.CodeUnauthenticated))
}

func TestRegister_DuplicatePhone(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Register(ctx, "0612345678", "Alice", "secret123")
	require.NoError(t, err)

	_, err = service.Register(ctx, "0612345678", "Impostor", "other456")
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.CodeAlreadyExists))
}

func TestRegister_PasswordNeverStoredPlain(t *testing.T) {
	service, mem := newTestService(t)
	ctx := context.Background()

	profile, err := service.Register(ctx, "0612345678", "Alice", "secret123")
	require.NoError(t, err)

	atome, err := mem.Get(ctx, profile.ID, false)
	require.NoError(t, err)
	hash, _ := atome.Particles["password_hash"].(string)
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, "secret123", hash)
	assert.Nil(t, atome.Particles["password"])
}

func TestSearch_PrivateProfilesHidden(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	alice, err := service.Register(ctx, "111", "Alice", "secret123")
	require.NoError(t, err)
	bob, err := service.Register(ctx, "222", "Bob", "secret123")
	require.NoError(t, err)
	require.NoError(t, service.SetVisibility(ctx, bob.ID, "private"))

	results, err := service.Search(ctx, alice.ID, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, alice.ID, results[0].ID)

	// Bob still sees himself.
	results, err = service.Search(ctx, bob.ID, "222")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, bob.ID, results[0].ID)
}

func TestSetVisibility_RejectsUnknownValue(t *testing.T) {
	service, _ := newTestService(t)
	err := service.SetVisibility(context.Background(), "whoever", "invisible")
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.CodeInvalid))
}
