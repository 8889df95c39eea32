// Package dump exports stored repositories with their latest star counts.
package dump

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"starcrawl.shikanime.studio/internal/database"
)

const (
	CSVFileName  = "repository_data.csv"
	JSONFileName = "repository_data.json"
)

// Format selects which files Export writes.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatBoth Format = "both"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatCSV, FormatJSON, FormatBoth:
		return f, nil
	}
	return "", fmt.Errorf("unknown dump format %q (want csv, json or both)", s)
}

// Source lists repositories joined with their latest snapshot.
type Source interface {
	ListRepositoriesWithStars(ctx context.Context) ([]database.RepositoryWithStars, error)
}

var csvHeader = []string{
	"id", "name", "owner", "full_name", "description", "url",
	"language", "is_private", "is_fork", "is_archived",
	"star_count", "last_crawled_at",
}

// Row is the JSON form of one exported repository.
type Row struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Owner         string     `json:"owner"`
	FullName      string     `json:"full_name"`
	Description   *string    `json:"description"`
	URL           string     `json:"url"`
	Language      *string    `json:"language"`
	IsPrivate     bool       `json:"is_private"`
	IsFork        bool       `json:"is_fork"`
	IsArchived    bool       `json:"is_archived"`
	CreatedAt     *time.Time `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at"`
	PushedAt      *time.Time `json:"pushed_at"`
	StarCount     int32      `json:"star_count"`
	LastCrawledAt *time.Time `json:"last_crawled_at"`
}

type Metadata struct {
	ExportedAt        time.Time `json:"exported_at"`
	TotalRepositories int       `json:"total_repositories"`
}

type Document struct {
	Metadata     Metadata `json:"metadata"`
	Repositories []Row    `json:"repositories"`
}

// Export writes the selected formats into dir and returns the written paths.
// Nothing is written when the source is empty.
func Export(ctx context.Context, src Source, format Format, dir string, now time.Time) ([]string, error) {
	repos, err := src.ListRepositoriesWithStars(ctx)
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		slog.InfoContext(ctx, "no data to dump")
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var paths []string
	g, ctx := errgroup.WithContext(ctx)
	if format == FormatCSV || format == FormatBoth {
		p := filepath.Join(dir, CSVFileName)
		paths = append(paths, p)
		g.Go(func() error {
			return writeFile(ctx, p, func(w io.Writer) error { return WriteCSV(w, repos) })
		})
	}
	if format == FormatJSON || format == FormatBoth {
		p := filepath.Join(dir, JSONFileName)
		paths = append(paths, p)
		g.Go(func() error {
			return writeFile(ctx, p, func(w io.Writer) error { return WriteJSON(w, repos, now) })
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func writeFile(ctx context.Context, path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	slog.InfoContext(ctx, "dump written", "path", path)
	return nil
}

// WriteCSV writes one row per repository. Missing optional values are empty.
func WriteCSV(w io.Writer, repos []database.RepositoryWithStars) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range repos {
		var crawledAt string
		if r.CrawledAt != nil {
			crawledAt = r.CrawledAt.UTC().Format(time.RFC3339Nano)
		}
		record := []string{
			r.ID,
			r.Name,
			r.Owner,
			r.FullName,
			deref(r.Description),
			r.URL,
			deref(r.Language),
			strconv.FormatBool(r.IsPrivate),
			strconv.FormatBool(r.IsFork),
			strconv.FormatBool(r.IsArchived),
			strconv.FormatInt(int64(starCount(r)), 10),
			crawledAt,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes an indented Document.
func WriteJSON(w io.Writer, repos []database.RepositoryWithStars, exportedAt time.Time) error {
	doc := Document{
		Metadata:     Metadata{ExportedAt: exportedAt.UTC(), TotalRepositories: len(repos)},
		Repositories: make([]Row, 0, len(repos)),
	}
	for _, r := range repos {
		doc.Repositories = append(doc.Repositories, Row{
			ID:            r.ID,
			Name:          r.Name,
			Owner:         r.Owner,
			FullName:      r.FullName,
			Description:   r.Description,
			URL:           r.URL,
			Language:      r.Language,
			IsPrivate:     r.IsPrivate,
			IsFork:        r.IsFork,
			IsArchived:    r.IsArchived,
			CreatedAt:     r.CreatedAt,
			UpdatedAt:     r.UpdatedAt,
			PushedAt:      r.PushedAt,
			StarCount:     starCount(r),
			LastCrawledAt: r.CrawledAt,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func starCount(r database.RepositoryWithStars) int32 {
	if r.StarCount == nil {
		return 0
	}
	return *r.StarCount
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
