package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"media-companion/internal/repository"
)

type failingStore struct {
	*repository.MemoryStore
	err error
}

func (f *failingStore) Get(context.Context, string) (string, bool, error) { return "", false, f.err }
func (f *failingStore) SetIfAbsent(context.Context, string, string) (bool, error) {
	return false, f.err
}
func (f *failingStore) Delete(context.Context, string) error { return f.err }
func (f *failingStore) DeleteIfEquals(context.Context, string, string) (bool, error) {
	return false, f.err
}
func (f *failingStore) Exists(context.Context, string) (bool, error) { return false, f.err }

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(repository.NewMemoryStore(0))
	require.NoError(t, err)
	return r
}

func TestRegisterIfAbsent_OnlyFirstOwnerWins(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	ok, err := r.RegisterIfAbsent(ctx, "u1", "shard-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.RegisterIfAbsent(ctx, "u1", "shard-b")
	require.NoError(t, err)
	require.False(t, ok)

	owner, found, err := r.LookupOwner(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "shard-a", owner)
}

func TestRelease_OnlyForCurrentOwner(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	_, err := r.RegisterIfAbsent(ctx, "u1", "shard-a")
	require.NoError(t, err)

	ok, err := r.Release(ctx, "u1", "shard-b")
	require.NoError(t, err)
	require.False(t, ok)

	has, err := r.HasOwner(ctx, "u1")
	require.NoError(t, err)
	require.True(t, has)

	ok, err = r.Release(ctx, "u1", "shard-a")
	require.NoError(t, err)
	require.True(t, ok)

	has, err = r.HasOwner(ctx, "u1")
	require.NoError(t, err)
	require.False(t, has)
}

func TestRemove_ForceClears(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	_, _ = r.RegisterIfAbsent(ctx, "u1", "shard-a")
	require.NoError(t, r.Remove(ctx, "u1"))
	_, found, err := r.LookupOwner(ctx, "u1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestStoreErrorsAreReported(t *testing.T) {
	r, err := New(&failingStore{MemoryStore: repository.NewMemoryStore(0), err: errors.New("throttled")})
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = r.LookupOwner(ctx, "u1")
	require.ErrorContains(t, err, "lookup owner")

	ok, err := r.RegisterIfAbsent(ctx, "u1", "a")
	require.ErrorContains(t, err, "register")
	require.False(t, ok)

	require.ErrorContains(t, r.Remove(ctx, "u1"), "remove")

	_, err = r.Release(ctx, "u1", "a")
	require.ErrorContains(t, err, "release")
}

func TestValidation(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	_, _, err := r.LookupOwner(ctx, "")
	require.ErrorContains(t, err, "user id")
	_, err = r.RegisterIfAbsent(ctx, "u1", " ")
	require.ErrorContains(t, err, "shard id")

	_, err = New(nil)
	require.Error(t, err)
}

func TestShardDirectory(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	_, err := r.ResolveShard(ctx, "shard-a")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.AnnounceShard(ctx, "shard-a", "http://10.0.0.1:8080/"))
	url, err := r.ResolveShard(ctx, "shard-a")
	require.NoError(t, err)
	require.Equal(t, "http://10.0.0.1:8080", url)

	require.NoError(t, r.WithdrawShard(ctx, "shard-a"))
	_, err = r.ResolveShard(ctx, "shard-a")
	require.ErrorIs(t, err, ErrNotFound)
}
