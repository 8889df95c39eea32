package database

import "strings"

var UpsertRepositoryQuery = strings.Join([]string{
	"INSERT INTO repositories (",
	"id, name, owner, full_name, description, url,",
	"created_at, updated_at, pushed_at, language,",
	"is_private, is_fork, is_archived",
	") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)",
	"ON CONFLICT (id) DO UPDATE SET",
	"name = EXCLUDED.name,",
	"owner = EXCLUDED.owner,",
	"full_name = EXCLUDED.full_name,",
	"description = EXCLUDED.description,",
	"url = EXCLUDED.url,",
	"updated_at = EXCLUDED.updated_at,",
	"pushed_at = EXCLUDED.pushed_at,",
	"language = EXCLUDED.language,",
	"is_private = EXCLUDED.is_private,",
	"is_fork = EXCLUDED.is_fork,",
	"is_archived = EXCLUDED.is_archived,",
	"updated_at_db = CURRENT_TIMESTAMP",
}, " ")

var InsertStarSnapshotQuery = strings.Join([]string{
	"INSERT INTO repository_stars (repository_id, star_count, crawled_at)",
	"VALUES ($1, $2, $3)",
	"ON CONFLICT (repository_id, crawled_at) DO NOTHING",
}, " ")

var RepositoryCountQuery = "SELECT COUNT(*) FROM repositories"

var RepositoriesWithStarsQuery = strings.Join([]string{
	"SELECT r.id, r.name, r.owner, r.full_name, r.description, r.url,",
	"r.created_at, r.updated_at, r.pushed_at, r.language,",
	"r.is_private, r.is_fork, r.is_archived,",
	"ls.star_count, ls.crawled_at",
	"FROM repositories r",
	"LEFT JOIN latest_repository_stars ls ON ls.repository_id = r.id",
	"ORDER BY r.full_name",
}, " ")

// RepositoryArgs renders positional arguments for UpsertRepositoryQuery.
func RepositoryArgs(r Repository) []any {
	return []any{
		r.ID,
		r.Name,
		r.Owner,
		r.FullName,
		r.Description,
		r.URL,
		r.CreatedAt,
		r.UpdatedAt,
		r.PushedAt,
		r.Language,
		r.IsPrivate,
		r.IsFork,
		r.IsArchived,
	}
}

// StarSnapshotArgs renders positional arguments for InsertStarSnapshotQuery.
func StarSnapshotArgs(s StarSnapshot) []any {
	return []any{s.RepositoryID, s.StarCount, s.CrawledAt}
}
