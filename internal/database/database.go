package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"starcrawl.shikanime.studio/internal/config"
	dbpgx "starcrawl.shikanime.studio/internal/database/pgx"
)

// Repository is the identity and descriptive metadata of a GitHub repository.
type Repository struct {
	ID          string
	Name        string
	Owner       string
	FullName    string
	Description *string
	URL         string
	CreatedAt   *time.Time
	UpdatedAt   *time.Time
	PushedAt    *time.Time
	Language    *string
	IsPrivate   bool
	IsFork      bool
	IsArchived  bool
}

// StarSnapshot is the star count of a repository observed at CrawledAt.
type StarSnapshot struct {
	RepositoryID string
	StarCount    int
	CrawledAt    time.Time
}

// RepositoryWithStars is a repository joined with its latest star snapshot.
type RepositoryWithStars struct {
	ID          string
	Name        string
	Owner       string
	FullName    string
	Description *string
	URL         string
	CreatedAt   *time.Time
	UpdatedAt   *time.Time
	PushedAt    *time.Time
	Language    *string
	IsPrivate   bool
	IsFork      bool
	IsArchived  bool
	StarCount   *int32
	CrawledAt   *time.Time
}

type Database struct {
	pg *pgxpool.Pool
}

// NewForConfig constructs a Database using the provided config.
func NewForConfig(ctx context.Context, cfg *config.Config) (*Database, error) {
	pg, err := dbpgx.NewClientForConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(pg), nil
}

// NewClient constructs a Database using the provided pgx pool.
func NewClient(pg *pgxpool.Pool) *Database { return &Database{pg: pg} }

// Ping verifies the provided database connection is available
func (db *Database) Ping(ctx context.Context) error {
	tracer := otel.Tracer("starcrawl/database")
	ctx, span := tracer.Start(ctx, "Database.Ping")
	defer span.End()
	if db.pg == nil {
		return fmt.Errorf("database connection not available")
	}
	return db.pg.Ping(ctx)
}

func (db *Database) Close() error {
	if db.pg == nil {
		return nil
	}
	db.pg.Close()
	return nil
}

// BulkUpsertRepositories inserts repositories or refreshes their metadata by id.
func (db *Database) BulkUpsertRepositories(ctx context.Context, repos []Repository) error {
	tracer := otel.Tracer("starcrawl/database")
	ctx, span := tracer.Start(ctx, "Database.BulkUpsertRepositories")
	span.SetAttributes(attribute.Int("repos_len", len(repos)))
	defer span.End()
	if len(repos) == 0 {
		return nil
	}
	if db.pg == nil {
		return fmt.Errorf("database connection not available")
	}
	b := &pgx.Batch{}
	for i := range repos {
		b.Queue(UpsertRepositoryQuery, RepositoryArgs(repos[i])...)
	}
	slog.DebugContext(ctx, "upsert repositories queued", "count", len(repos))
	br := db.pg.SendBatch(ctx, b)
	defer br.Close()
	for i := range repos {
		if _, err := br.Exec(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("upsert repository %s failed: %w", repos[i].FullName, err)
		}
	}
	slog.DebugContext(ctx, "upsert repositories done", "count", len(repos))
	return nil
}

// BulkInsertStarSnapshots records star counts, ignoring snapshots already
// stored for the same repository and capture time.
func (db *Database) BulkInsertStarSnapshots(ctx context.Context, stars []StarSnapshot) error {
	tracer := otel.Tracer("starcrawl/database")
	ctx, span := tracer.Start(ctx, "Database.BulkInsertStarSnapshots")
	span.SetAttributes(attribute.Int("stars_len", len(stars)))
	defer span.End()
	if len(stars) == 0 {
		return nil
	}
	if db.pg == nil {
		return fmt.Errorf("database connection not available")
	}
	b := &pgx.Batch{}
	for i := range stars {
		b.Queue(InsertStarSnapshotQuery, StarSnapshotArgs(stars[i])...)
	}
	br := db.pg.SendBatch(ctx, b)
	defer br.Close()
	for i := range stars {
		if _, err := br.Exec(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("insert star snapshot for %s failed: %w", stars[i].RepositoryID, err)
		}
	}
	slog.DebugContext(ctx, "insert star snapshots done", "count", len(stars))
	return nil
}

// RepositoryCount returns the number of stored repositories.
func (db *Database) RepositoryCount(ctx context.Context) (int64, error) {
	tracer := otel.Tracer("starcrawl/database")
	ctx, span := tracer.Start(ctx, "Database.RepositoryCount")
	defer span.End()
	if db.pg == nil {
		return 0, fmt.Errorf("database connection not available")
	}
	var n int64
	if err := db.pg.QueryRow(ctx, RepositoryCountQuery).Scan(&n); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("count repositories failed: %w", err)
	}
	return n, nil
}

// ListRepositoriesWithStars returns every repository with its latest star
// count, ordered by full name.
func (db *Database) ListRepositoriesWithStars(ctx context.Context) ([]RepositoryWithStars, error) {
	tracer := otel.Tracer("starcrawl/database")
	ctx, span := tracer.Start(ctx, "Database.ListRepositoriesWithStars")
	defer span.End()
	if db.pg == nil {
		return nil, fmt.Errorf("database connection not available")
	}
	rows, err := db.pg.Query(ctx, RepositoriesWithStarsQuery)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query repositories failed: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[RepositoryWithStars])
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("scan repositories failed: %w", err)
	}
	span.SetAttributes(attribute.Int("repos_len", len(out)))
	return out, nil
}
