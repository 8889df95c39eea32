package crawler

import (
	"errors"
	"fmt"
	"time"

	"starcrawl.shikanime.studio/internal/database"
	"starcrawl.shikanime.studio/internal/github"
)

// ErrMalformedNode marks a search result that lacks a required field.
var ErrMalformedNode = errors.New("malformed repository node")

// Record is the persisted form of one search result.
type Record struct {
	Repository database.Repository
	Stars      database.StarSnapshot
}

// NewRecord validates n and converts it into a Record captured at crawledAt.
func NewRecord(n github.Node, crawledAt time.Time) (Record, error) {
	for _, f := range []struct{ name, value string }{
		{"id", n.ID},
		{"name", n.Name},
		{"owner", n.OwnerLogin},
		{"nameWithOwner", n.NameWithOwner},
		{"url", n.URL},
	} {
		if f.value == "" {
			return Record{}, fmt.Errorf("%w: missing %s", ErrMalformedNode, f.name)
		}
	}
	return Record{
		Repository: database.Repository{
			ID:          n.ID,
			Name:        n.Name,
			Owner:       n.OwnerLogin,
			FullName:    n.NameWithOwner,
			Description: n.Description,
			URL:         n.URL,
			CreatedAt:   n.CreatedAt,
			UpdatedAt:   n.UpdatedAt,
			PushedAt:    n.PushedAt,
			Language:    n.PrimaryLanguage,
			IsPrivate:   n.IsPrivate,
			IsFork:      n.IsFork,
			IsArchived:  n.IsArchived,
		},
		Stars: database.StarSnapshot{
			RepositoryID: n.ID,
			StarCount:    n.StargazerCount,
			CrawledAt:    crawledAt,
		},
	}, nil
}

// captureTime is the timestamp shared by every snapshot of a batch. It is
// truncated to the precision PostgreSQL stores.
func captureTime(now time.Time) time.Time {
	return now.UTC().Truncate(time.Microsecond)
}
