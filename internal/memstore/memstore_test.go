package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"starcrawl.shikanime.studio/internal/database"
)

func TestUpsertIsIdempotentByID(t *testing.T) {
	ctx := context.Background()
	s := New()
	repos := []database.Repository{
		{ID: "R_1", Name: "alpha", Owner: "octo", FullName: "octo/alpha"},
		{ID: "R_2", Name: "beta", Owner: "octo", FullName: "octo/beta"},
	}
	require.NoError(t, s.BulkUpsertRepositories(ctx, repos))
	require.NoError(t, s.BulkUpsertRepositories(ctx, repos))

	renamed := []database.Repository{{ID: "R_1", Name: "gamma", Owner: "octo", FullName: "octo/gamma"}}
	require.NoError(t, s.BulkUpsertRepositories(ctx, renamed))

	n, err := s.RepositoryCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	r, ok := s.Repository("R_1")
	require.True(t, ok)
	assert.Equal(t, "octo/gamma", r.FullName)
}

func TestSnapshotsIgnoreDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New()
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	batch := []database.StarSnapshot{
		{RepositoryID: "R_1", StarCount: 10, CrawledAt: at},
		{RepositoryID: "R_2", StarCount: 20, CrawledAt: at},
	}
	require.NoError(t, s.BulkInsertStarSnapshots(ctx, batch))
	require.NoError(t, s.BulkInsertStarSnapshots(ctx, []database.StarSnapshot{
		{RepositoryID: "R_1", StarCount: 99, CrawledAt: at},
	}))
	assert.Equal(t, 2, s.SnapshotCount())

	require.NoError(t, s.BulkInsertStarSnapshots(ctx, []database.StarSnapshot{
		{RepositoryID: "R_1", StarCount: 11, CrawledAt: at.Add(time.Hour)},
	}))
	assert.Equal(t, 3, s.SnapshotCount())
}

func TestEmptyWritesAreNoOps(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.BulkUpsertRepositories(ctx, nil))
	require.NoError(t, s.BulkInsertStarSnapshots(ctx, nil))
	n, err := s.RepositoryCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListRepositoriesWithStarsUsesLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	s := New()
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.BulkUpsertRepositories(ctx, []database.Repository{
		{ID: "R_2", FullName: "octo/zeta"},
		{ID: "R_1", FullName: "octo/alpha"},
	}))
	require.NoError(t, s.BulkInsertStarSnapshots(ctx, []database.StarSnapshot{
		{RepositoryID: "R_1", StarCount: 10, CrawledAt: at},
		{RepositoryID: "R_1", StarCount: 15, CrawledAt: at.Add(time.Hour)},
	}))

	rows, err := s.ListRepositoriesWithStars(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "octo/alpha", rows[0].FullName)
	require.NotNil(t, rows[0].StarCount)
	assert.Equal(t, int32(15), *rows[0].StarCount)
	assert.Equal(t, at.Add(time.Hour), *rows[0].CrawledAt)
	assert.Nil(t, rows[1].StarCount)
}

func TestLatestSnapshotIgnoresInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.BulkUpsertRepositories(ctx, []database.Repository{{ID: "R_1", FullName: "octo/alpha"}}))
	require.NoError(t, s.BulkInsertStarSnapshots(ctx, []database.StarSnapshot{
		{RepositoryID: "R_1", StarCount: 30, CrawledAt: at.Add(2 * time.Hour)},
		{RepositoryID: "R_1", StarCount: 10, CrawledAt: at},
		{RepositoryID: "R_1", StarCount: 99, CrawledAt: at.Add(2 * time.Hour)},
	}))
	assert.Equal(t, 2, s.SnapshotCount())

	rows, err := s.ListRepositoriesWithStars(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int32(30), *rows[0].StarCount)
	assert.Equal(t, at.Add(2*time.Hour), *rows[0].CrawledAt)
}
