package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_LoadEmpty(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestSQLite_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	idx := sampleIndex()
	require.NoError(t, s.Save(ctx, idx, ChangeSet{All: true}))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Entries, 2)
	assert.Equal(t, int64(4), got.TotalHits)
	assert.Equal(t, int64(2), got.TotalMisses)
	assert.Equal(t, idx.LastUpdated, got.LastUpdated)
}

func TestSQLite_IncrementalSave(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	idx := sampleIndex()
	require.NoError(t, s.Save(ctx, idx, ChangeSet{All: true}))

	e := sampleEntry("Fushimi Inari")
	key := e.Query.CacheKey()
	idx.Entries[key] = e
	idx.TotalMisses++
	require.NoError(t, s.Save(ctx, idx, ChangeSet{Keys: []string{key}}))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Entries, 3)
	assert.Equal(t, int64(3), got.TotalMisses)
}

func TestSQLite_OverwriteEntry(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	idx := sampleIndex()
	require.NoError(t, s.Save(ctx, idx, ChangeSet{All: true}))

	key := "kinkaku-ji|kyoto|japan|temple"
	e := idx.Entries[key]
	e.Result.Resolved.Address = "1 Kinkakujicho, Kita Ward"
	idx.Entries[key] = e
	require.NoError(t, s.Save(ctx, idx, ChangeSet{Keys: []string{key}}))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1 Kinkakujicho, Kita Ward", got.Entries[key].Result.Resolved.Address)
}

func TestSQLite_MetaOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	idx := sampleIndex()
	idx.Entries = nil
	require.NoError(t, s.Save(ctx, idx, ChangeSet{}))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Entries)
	assert.Equal(t, int64(4), got.TotalHits)
}
