package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
	"starcrawl.shikanime.studio/internal/github"
)

func TestNewRecord(t *testing.T) {
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	rec, err := NewRecord(github.Node{
		ID:              "R_1",
		Name:            "alpha",
		OwnerLogin:      "octo",
		NameWithOwner:   "octo/alpha",
		URL:             "https://github.com/octo/alpha",
		PrimaryLanguage: ptr.To("Go"),
		IsArchived:      true,
		StargazerCount:  42,
	}, at)
	require.NoError(t, err)
	assert.Equal(t, "octo", rec.Repository.Owner)
	assert.Equal(t, "octo/alpha", rec.Repository.FullName)
	assert.Equal(t, "Go", *rec.Repository.Language)
	assert.True(t, rec.Repository.IsArchived)
	assert.Equal(t, "R_1", rec.Stars.RepositoryID)
	assert.Equal(t, 42, rec.Stars.StarCount)
	assert.Equal(t, at, rec.Stars.CrawledAt)
}

func TestNewRecordRejectsMissingFields(t *testing.T) {
	valid := github.Node{
		ID:            "R_1",
		Name:          "alpha",
		OwnerLogin:    "octo",
		NameWithOwner: "octo/alpha",
		URL:           "https://github.com/octo/alpha",
	}
	tests := map[string]func(*github.Node){
		"id":            func(n *github.Node) { n.ID = "" },
		"name":          func(n *github.Node) { n.Name = "" },
		"owner":         func(n *github.Node) { n.OwnerLogin = "" },
		"nameWithOwner": func(n *github.Node) { n.NameWithOwner = "" },
		"url":           func(n *github.Node) { n.URL = "" },
	}
	for field, mutate := range tests {
		t.Run(field, func(t *testing.T) {
			n := valid
			mutate(&n)
			_, err := NewRecord(n, time.Now())
			require.ErrorIs(t, err, ErrMalformedNode)
			assert.Contains(t, err.Error(), field)
		})
	}
}

func TestCaptureTimeTruncatesToMicroseconds(t *testing.T) {
	local := time.FixedZone("CET", 3600)
	in := time.Date(2025, 1, 1, 13, 0, 0, 123456789, local)
	out := captureTime(in)
	assert.Equal(t, time.UTC, out.Location())
	assert.Equal(t, 123456000, out.Nanosecond())
	assert.Equal(t, 12, out.Hour())
}
