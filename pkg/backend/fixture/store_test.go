package fixture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgast/schemaprobe/pkg/backend"
	"github.com/cgast/schemaprobe/pkg/backend/backendtest"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fixture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSeedAndCount(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Seed("plans",
		backend.Record{"name": "free"},
		backend.Record{"name": "pro"},
	))
	require.NoError(t, s.Seed("plans", backend.Record{"name": "team"}))
	require.NoError(t, s.Seed("empty"))

	n, err := s.CountRows(ctx, "plans")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.CountRows(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = s.CountRows(ctx, "nope")
	assert.ErrorIs(t, err, backend.ErrRelationNotFound)

	_, err = s.CountRows(ctx, "_policies")
	assert.ErrorIs(t, err, backend.ErrRelationNotFound, "reserved buckets are not entities")
}

func TestOpenReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.db")
	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Seed("plans", backend.Record{"name": "free"}, backend.Record{"name": "pro"}))
	require.NoError(t, w.Seed("profiles", backend.Record{"id": "u1"}))
	require.NoError(t, w.SetPolicy("profiles", Policy{AnonRead: false}))
	require.NoError(t, w.Close())

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	s, err := OpenReadOnly(path)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := s.CountRows(ctx, "plans")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = s.Clients().Anonymous.FetchRows(ctx, "profiles", 1)
	assert.ErrorIs(t, err, backend.ErrPermissionDenied)
	id, err := s.CurrentIdentity(ctx)
	require.NoError(t, err)
	assert.Nil(t, id)

	assert.Error(t, s.Seed("plans", backend.Record{"name": "team"}))
	assert.Error(t, s.SetPolicy("plans", Policy{AnonRead: true}))
	require.NoError(t, s.Close())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "read-only open must leave the file untouched")
}

func TestOpenReadOnlyMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.db")

	_, err := OpenReadOnly(path)
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchRowsInOrder(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Seed("plans",
		backend.Record{"name": "free"},
		backend.Record{"name": "pro"},
		backend.Record{"name": "team"},
	))

	rows, err := s.FetchRows(context.Background(), "plans", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "free", rows[0]["name"])
	assert.Equal(t, "pro", rows[1]["name"])
}

func TestSeedRejectsReservedNames(t *testing.T) {
	s := openStore(t)
	assert.Error(t, s.Seed("_identity"))
	assert.Error(t, s.Seed(""))
}

func TestAnonymousPolicies(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Seed("profiles", backend.Record{"id": "u1"}))
	require.NoError(t, s.Seed("plans", backend.Record{"id": 1}))
	require.NoError(t, s.SetPolicy("profiles", Policy{AnonRead: false}))

	anon := s.Clients().Anonymous

	_, err := anon.FetchRows(ctx, "profiles", 1)
	assert.ErrorIs(t, err, backend.ErrPermissionDenied)

	rows, err := anon.FetchRows(ctx, "plans", 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestIdentity(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.CurrentIdentity(ctx)
	require.NoError(t, err)
	assert.Nil(t, id)

	require.NoError(t, s.SetIdentity(&backend.Identity{ID: "u1", Role: "authenticated"}))
	id, err = s.CurrentIdentity(ctx)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "u1", id.ID)

	require.NoError(t, s.SetIdentity(nil))
	id, err = s.CurrentIdentity(ctx)
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestEntities(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Seed("b"))
	require.NoError(t, s.Seed("a"))

	names, err := s.Entities()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestCapture(t *testing.T) {
	src := openStore(t)
	require.NoError(t, src.Seed("plans", backend.Record{"name": "free"}, backend.Record{"name": "pro"}))
	require.NoError(t, src.Seed("profiles", backend.Record{"id": "u1"}))
	require.NoError(t, src.SetPolicy("profiles", Policy{AnonRead: false}))
	require.NoError(t, src.SetIdentity(&backend.Identity{ID: "svc"}))

	dst := openStore(t)
	ctx := context.Background()

	sum, err := Capture(ctx, src.Clients(), []string{"plans", "profiles", "missing"}, dst, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"plans": 2, "profiles": 1}, sum.Entities)
	assert.Equal(t, []string{"missing"}, sum.Missing)
	assert.Equal(t, []string{"profiles"}, sum.Denied)
	assert.Empty(t, sum.Errors)

	n, err := dst.CountRows(ctx, "plans")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = dst.Clients().Anonymous.FetchRows(ctx, "profiles", 1)
	assert.ErrorIs(t, err, backend.ErrPermissionDenied)

	_, err = dst.CountRows(ctx, "missing")
	assert.True(t, errors.Is(err, backend.ErrRelationNotFound))

	id, err := dst.CurrentIdentity(ctx)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "svc", id.ID)
}

func TestCaptureFilteredRowsBecomeDenied(t *testing.T) {
	src := backendtest.New()
	src.Counts["profiles"] = 3
	src.Hidden["profiles"] = true
	src.Counts["plans"] = 2

	dst := openStore(t)
	ctx := context.Background()

	sum, err := Capture(ctx, src.Clients(), []string{"profiles", "plans"}, dst, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"profiles"}, sum.Denied)

	_, err = dst.Clients().Anonymous.FetchRows(ctx, "profiles", 1)
	assert.ErrorIs(t, err, backend.ErrPermissionDenied)
	rows, err := dst.Clients().Anonymous.FetchRows(ctx, "plans", 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCaptureRejectsIncompleteClients(t *testing.T) {
	dst := openStore(t)
	_, err := Capture(context.Background(), backend.Clients{}, []string{"x"}, dst, 10)
	assert.Error(t, err)
}
