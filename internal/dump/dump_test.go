package dump

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
	"starcrawl.shikanime.studio/internal/database"
	"starcrawl.shikanime.studio/internal/memstore"
)

func seed(t *testing.T) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.BulkUpsertRepositories(ctx, []database.Repository{
		{ID: "R_2", Name: "zeta", Owner: "octo", FullName: "octo/zeta", URL: "https://github.com/octo/zeta"},
		{ID: "R_1", Name: "alpha", Owner: "octo", FullName: "octo/alpha", URL: "https://github.com/octo/alpha",
			Description: ptr.To("first, with comma"), Language: ptr.To("Go")},
	}))
	require.NoError(t, s.BulkInsertStarSnapshots(ctx, []database.StarSnapshot{
		{RepositoryID: "R_1", StarCount: 42, CrawledAt: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)},
	}))
	return s
}

func TestParseFormat(t *testing.T) {
	for _, in := range []string{"csv", "json", "both"} {
		f, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, Format(in), f)
	}
	_, err := ParseFormat("xml")
	require.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	rows, err := seed(t).ListRepositoriesWithStars(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, []string{
		"R_1", "alpha", "octo", "octo/alpha", "first, with comma", "https://github.com/octo/alpha",
		"Go", "false", "false", "false", "42", "2025-01-01T12:00:00Z",
	}, records[1])
	assert.Equal(t, "", records[2][4])
	assert.Equal(t, "0", records[2][10])
	assert.Equal(t, "", records[2][11])
}

func TestWriteJSON(t *testing.T) {
	rows, err := seed(t).ListRepositoriesWithStars(context.Background())
	require.NoError(t, err)

	exported := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, rows, exported))

	var doc Document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 2, doc.Metadata.TotalRepositories)
	assert.Equal(t, exported, doc.Metadata.ExportedAt)
	require.Len(t, doc.Repositories, 2)
	assert.Equal(t, "octo/alpha", doc.Repositories[0].FullName)
	assert.Equal(t, int32(42), doc.Repositories[0].StarCount)
	assert.Nil(t, doc.Repositories[1].Description)
	assert.Nil(t, doc.Repositories[1].LastCrawledAt)
}

func TestExportBoth(t *testing.T) {
	dir := t.TempDir()
	paths, err := Export(context.Background(), seed(t), FormatBoth, dir, time.Now())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, CSVFileName),
		filepath.Join(dir, JSONFileName),
	}, paths)
	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestExportEmptyWritesNothing(t *testing.T) {
	dir := t.TempDir()
	paths, err := Export(context.Background(), memstore.New(), FormatBoth, dir, time.Now())
	require.NoError(t, err)
	assert.Empty(t, paths)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
