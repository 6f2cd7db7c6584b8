package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &Postgres{pool: mock}, mock
}

func TestPostgres_Migrate(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS place_cache`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, p.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LoadEmpty(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT last_updated, total_hits, total_misses FROM place_cache_meta`).
		WillReturnRows(pgxmock.NewRows([]string{"last_updated", "total_hits", "total_misses"}))
	mock.ExpectQuery(`SELECT cache_key, entry FROM place_cache`).
		WillReturnRows(pgxmock.NewRows([]string{"cache_key", "entry"}))

	_, err := p.Load(context.Background())
	assert.ErrorIs(t, err, ErrIndexNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Load(t *testing.T) {
	p, mock := newMockPostgres(t)

	entry := sampleEntry("Ginkaku-ji")
	raw, err := json.Marshal(entry)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT last_updated, total_hits, total_misses FROM place_cache_meta`).
		WillReturnRows(pgxmock.NewRows([]string{"last_updated", "total_hits", "total_misses"}).
			AddRow("2026-04-02T00:00:00Z", int64(9), int64(3)))
	mock.ExpectQuery(`SELECT cache_key, entry FROM place_cache`).
		WillReturnRows(pgxmock.NewRows([]string{"cache_key", "entry"}).
			AddRow(entry.Query.CacheKey(), raw).
			AddRow("broken|k|e|y", []byte(`{oops`)))

	idx, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), idx.TotalHits)
	assert.Equal(t, int64(3), idx.TotalMisses)
	require.Len(t, idx.Entries, 1)
	assert.Equal(t, "Ginkaku-ji", idx.Entries[entry.Query.CacheKey()].Result.Resolved.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveIncremental(t *testing.T) {
	p, mock := newMockPostgres(t)
	idx := sampleIndex()
	key := "kinkaku-ji|kyoto|japan|temple"

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO place_cache \(`).
		WithArgs(key, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO place_cache_meta`).
		WithArgs(idx.LastUpdated, int64(4), int64(2)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, p.Save(context.Background(), idx, ChangeSet{Keys: []string{key}}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveAll(t *testing.T) {
	p, mock := newMockPostgres(t)
	idx := sampleIndex()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM place_cache`).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectExec(`INSERT INTO place_cache \(`).
		WithArgs("kinkaku-ji|kyoto|japan|temple", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO place_cache \(`).
		WithArgs("kiyomizu-dera|kyoto|japan|temple", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO place_cache_meta`).
		WithArgs(idx.LastUpdated, int64(4), int64(2)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, p.Save(context.Background(), idx, ChangeSet{All: true}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveRollsBackOnError(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO place_cache \(`).
		WithArgs("kinkaku-ji|kyoto|japan|temple", pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := p.Save(context.Background(), sampleIndex(), ChangeSet{Keys: []string{"kinkaku-ji|kyoto|japan|temple"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert entry")
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}
