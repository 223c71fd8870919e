package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const articleColumns = "url, title, published_at, published_date, content_hash, domain, source, image_url, summary, takeaways_json, tags_json, created_at"

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	url            TEXT PRIMARY KEY,
	title          TEXT NOT NULL DEFAULT '',
	published_at   TEXT NOT NULL DEFAULT '',
	published_date TEXT NOT NULL DEFAULT '',
	content_hash   TEXT NOT NULL,
	domain         TEXT NOT NULL DEFAULT '',
	source         TEXT NOT NULL DEFAULT '',
	image_url      TEXT NOT NULL DEFAULT '',
	summary        TEXT NOT NULL DEFAULT '',
	takeaways_json TEXT NOT NULL DEFAULT '[]',
	tags_json      TEXT NOT NULL DEFAULT '[]',
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_articles_content_hash ON articles(content_hash);
CREATE INDEX IF NOT EXISTS idx_articles_created_at ON articles(created_at);
CREATE INDEX IF NOT EXISTS idx_articles_source ON articles(source);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	seen        INTEGER NOT NULL DEFAULT 0,
	summarized  INTEGER NOT NULL DEFAULT 0,
	cached      INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	errors      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// SQLStore is an ArticleStore over database/sql. The same statements run on
// SQLite and PostgreSQL; only placeholders and LIKE differ.
type SQLStore struct {
	db     *sql.DB
	driver string
	qb     sq.StatementBuilderType
	now    func() time.Time
}

var _ ArticleStore = (*SQLStore)(nil)

// Open connects to the database and creates the schema if needed.
// For sqlite, dsn is a file path; parent directories are created.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "" && dsn != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, unavailable("open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, unavailable("ping", err)
	}

	s := New(db, driver)
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already open database. The schema is not touched.
func New(db *sql.DB, driver string) *SQLStore {
	format := sq.PlaceholderFormat(sq.Question)
	if driver == DriverPostgres {
		format = sq.Dollar
	}
	return &SQLStore{
		db:     db,
		driver: driver,
		qb:     sq.StatementBuilder.PlaceholderFormat(format),
		now:    time.Now,
	}
}

// WithClock overrides the time source used for created_at.
func (s *SQLStore) WithClock(now func() time.Time) *SQLStore {
	s.now = now
	return s
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return unavailable("create schema", err)
	}
	return nil
}

func (s *SQLStore) HasURL(ctx context.Context, url string) (bool, error) {
	return s.exists(ctx, "has url", sq.Eq{"url": url})
}

func (s *SQLStore) HasHash(ctx context.Context, hash string) (bool, error) {
	return s.exists(ctx, "has hash", sq.Eq{"content_hash": hash})
}

func (s *SQLStore) exists(ctx context.Context, op string, where sq.Sqlizer) (bool, error) {
	query, args, err := s.qb.Select("1").From("articles").Where(where).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("%s: build query: %w", op, err)
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, unavailable(op, err)
	}
	return true, nil
}

func (s *SQLStore) Insert(ctx context.Context, a Article) error {
	takeaways, err := json.Marshal(nonNil(a.Takeaways))
	if err != nil {
		return fmt.Errorf("marshal takeaways: %w", err)
	}
	tags, err := json.Marshal(nonNil(a.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	query, args, err := s.qb.Insert("articles").
		Columns(strings.Split(articleColumns, ", ")...).
		Values(
			a.URL, a.Title, a.PublishedAt, a.PublishedDate, a.ContentHash,
			a.Domain, a.Source, a.ImageURL, a.Summary,
			string(takeaways), string(tags), formatTime(s.now()),
		).
		Suffix(`ON CONFLICT (url) DO UPDATE SET
			title = EXCLUDED.title,
			published_at = EXCLUDED.published_at,
			published_date = EXCLUDED.published_date,
			content_hash = EXCLUDED.content_hash,
			domain = EXCLUDED.domain,
			source = EXCLUDED.source,
			image_url = EXCLUDED.image_url,
			summary = EXCLUDED.summary,
			takeaways_json = EXCLUDED.takeaways_json,
			tags_json = EXCLUDED.tags_json,
			created_at = EXCLUDED.created_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("insert: build query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return unavailable("insert", err)
	}
	return nil
}

func (s *SQLStore) Recent(ctx context.Context, opts RecentOptions) ([]Article, error) {
	b := s.qb.Select(articleColumns).From("articles").
		OrderBy("created_at DESC").
		Limit(uint64(clampLimit(opts.Limit)))

	if q := strings.TrimSpace(opts.Query); q != "" {
		op := "LIKE"
		if s.driver == DriverPostgres {
			op = "ILIKE"
		}
		pattern := "%" + escapeLike(q) + "%"
		b = b.Where(sq.Or{
			sq.Expr("title "+op+` ? ESCAPE '\'`, pattern),
			sq.Expr("summary "+op+` ? ESCAPE '\'`, pattern),
		})
	}
	if opts.Source != "" {
		b = b.Where(sq.Eq{"source": opts.Source})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("recent: build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("recent", err)
	}
	defer rows.Close()

	out := []Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("recent rows", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// escapeLike makes q match literally inside a LIKE pattern escaped with '\'.
func escapeLike(q string) string { return likeEscaper.Replace(q) }

func scanArticle(rows *sql.Rows) (Article, error) {
	var a Article
	var takeawaysJSON, tagsJSON, createdAt string
	err := rows.Scan(
		&a.URL, &a.Title, &a.PublishedAt, &a.PublishedDate, &a.ContentHash,
		&a.Domain, &a.Source, &a.ImageURL, &a.Summary,
		&takeawaysJSON, &tagsJSON, &createdAt,
	)
	if err != nil {
		return a, unavailable("scan article", err)
	}
	if err := json.Unmarshal([]byte(takeawaysJSON), &a.Takeaways); err != nil {
		return a, fmt.Errorf("decode takeaways for %s: %w", a.URL, err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &a.Tags); err != nil {
		return a, fmt.Errorf("decode tags for %s: %w", a.URL, err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return a, nil
}

func (s *SQLStore) Sources(ctx context.Context) ([]string, error) {
	query, args, err := s.qb.Select("DISTINCT source").From("articles").
		Where(sq.NotEq{"source": ""}).
		OrderBy("source").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sources: build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("sources", err)
	}
	defer rows.Close()

	sources := []string{}
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, unavailable("scan source", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("sources rows", err)
	}
	return sources, nil
}

func (s *SQLStore) RecordRun(ctx context.Context, r RunRecord) error {
	query, args, err := s.qb.Insert("runs").
		Columns("id", "started_at", "finished_at", "seen", "summarized", "cached", "skipped", "errors").
		Values(r.ID, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.Seen, r.Summarized, r.Cached, r.Skipped, r.Errors).
		ToSql()
	if err != nil {
		return fmt.Errorf("record run: build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return unavailable("record run", err)
	}
	return nil
}

func (s *SQLStore) LatestRun(ctx context.Context) (*RunRecord, error) {
	query, args, err := s.qb.
		Select("id", "started_at", "finished_at", "seen", "summarized", "cached", "skipped", "errors").
		From("runs").
		OrderBy("started_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("latest run: build query: %w", err)
	}

	var r RunRecord
	var started, finished string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&r.ID, &started, &finished, &r.Seen, &r.Summarized, &r.Cached, &r.Skipped, &r.Errors,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("latest run", err)
	}
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
	return &r, nil
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// formatTime renders t as RFC 3339 UTC with a fixed-width fraction so that
// lexical order in TEXT columns matches chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
