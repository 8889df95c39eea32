// Package memstore keeps crawl results in memory. It backs dry runs and tests
// and follows the same idempotency rules as the PostgreSQL store.
package memstore

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/ptr"
	"starcrawl.shikanime.studio/internal/database"
)

// Store is a concurrency-safe in-memory crawler store.
type Store struct {
	mu    sync.RWMutex
	repos map[string]database.Repository
	// snapshots holds star counts by repository id, then capture time.
	snapshots map[string]map[time.Time]int
	latest    map[string]time.Time
	count     int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		repos:     make(map[string]database.Repository),
		snapshots: make(map[string]map[time.Time]int),
		latest:    make(map[string]time.Time),
	}
}

// BulkUpsertRepositories inserts repos or replaces them by id.

func (s *Store) BulkUpsertRepositories(_ context.Context, repos []database.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range repos {
		s.repos[r.ID] = r
	}
	return nil
}

// BulkInsertStarSnapshots keeps the first snapshot stored for a repository
// and capture time.
func (s *Store) BulkInsertStarSnapshots(_ context.Context, stars []database.StarSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range stars {
		at := st.CrawledAt.UTC()
		byTime, ok := s.snapshots[st.RepositoryID]
		if !ok {
			byTime = make(map[time.Time]int)
			s.snapshots[st.RepositoryID] = byTime
		}
		if _, ok := byTime[at]; ok {
			continue
		}
		byTime[at] = st.StarCount
		s.count++
		if last, ok := s.latest[st.RepositoryID]; !ok || at.After(last) {
			s.latest[st.RepositoryID] = at
		}
	}
	return nil
}

// RepositoryCount returns the number of distinct repositories stored.
func (s *Store) RepositoryCount(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.repos)), nil
}

// SnapshotCount returns the number of star snapshots stored.
func (s *Store) SnapshotCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Repository returns the stored repository with the given id.
func (s *Store) Repository(id string) (database.Repository, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.repos[id]
	return r, ok
}

// ListRepositoriesWithStars mirrors the PostgreSQL listing: every repository
// with its latest snapshot, ordered by full name.
func (s *Store) ListRepositoriesWithStars(context.Context) ([]database.RepositoryWithStars, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]database.RepositoryWithStars, 0, len(s.repos))
	for _, r := range s.repos {
		row := database.RepositoryWithStars{
			ID:          r.ID,
			Name:        r.Name,
			Owner:       r.Owner,
			FullName:    r.FullName,
			Description: r.Description,
			URL:         r.URL,
			CreatedAt:   r.CreatedAt,
			UpdatedAt:   r.UpdatedAt,
			PushedAt:    r.PushedAt,
			Language:    r.Language,
			IsPrivate:   r.IsPrivate,
			IsFork:      r.IsFork,
			IsArchived:  r.IsArchived,
		}
		if at, ok := s.latest[r.ID]; ok {
			row.CrawledAt = ptr.To(at)
			row.StarCount = ptr.To(int32(s.snapshots[r.ID][at]))
		}
		out = append(out, row)
	}
	slices.SortFunc(out, func(a, b database.RepositoryWithStars) int {
		return strings.Compare(a.FullName, b.FullName)
	})
	return out, nil
}
