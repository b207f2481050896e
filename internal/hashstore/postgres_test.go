package hashstore

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

func TestNewPostgresBackendWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresBackendWithPool(mock, "bad-name;drop")
	require.Error(t, err)

	_, err = NewPostgresBackendWithPool(nil, "")
	require.Error(t, err)
}

func TestPostgresEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	backend, err := NewPostgresBackendWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS resource_hashes").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, backend.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoad(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	backend, err := NewPostgresBackendWithPool(mock, "resource_hashes")
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"digest", "algorithm", "location", "size", "source_kind", "alias"}).
		AddRow("aaa", "md5", "/data/a.jpg", int64(12), "file", false).
		AddRow("aaa", "md5", "https://i.redd.it/a.jpg", int64(0), "url", false)
	mock.ExpectQuery("SELECT digest, algorithm, location, size, source_kind, alias FROM resource_hashes").
		WillReturnRows(rows)

	snap, exists, err := backend.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, exists)
	require.Len(t, snap.Records, 2)
	assert.Equal(t, Record{
		Digest:    "aaa",
		Algorithm: downloader.AlgorithmMD5,
		Location:  "/data/a.jpg",
		Size:      12,
		Kind:      downloader.SourceFile,
	}, snap.Records[0])
	assert.Equal(t, downloader.SourceURL, snap.Records[1].Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveSingleTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	backend, err := NewPostgresBackendWithPool(mock, "resource_hashes")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM resource_hashes").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("INSERT INTO resource_hashes").
		WithArgs(
			[]string{"aaa", "bbb"},
			[]string{"md5", "md5"},
			[]string{"/data/a.jpg", "/data/b.jpg"},
			[]int64{1, 2},
			[]string{"file", "file"},
			[]bool{false, true},
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	err = backend.Save(context.Background(), Snapshot{Records: []Record{
		{Digest: "aaa", Algorithm: downloader.AlgorithmMD5, Location: "/data/a.jpg", Size: 1, Kind: downloader.SourceFile},
		{Digest: "bbb", Algorithm: downloader.AlgorithmMD5, Location: "/data/b.jpg", Size: 2, Kind: downloader.SourceFile, Alias: true},
	}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	backend, err := NewPostgresBackendWithPool(mock, "resource_hashes")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM resource_hashes").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO resource_hashes").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err = backend.Save(context.Background(), Snapshot{Records: []Record{
		{Digest: "aaa", Algorithm: downloader.AlgorithmMD5, Location: "/data/a.jpg", Kind: downloader.SourceFile},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}
