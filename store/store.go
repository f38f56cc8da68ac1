// Package store persists scraped showings and their enrichment records in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aluiziolira/go-scrape-cinemateca/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("store: not found")

var pragmas = []string{
	`PRAGMA foreign_keys = ON`,
	`PRAGMA synchronous = NORMAL`,
	`PRAGMA journal_size_limit = 1024000`,
	`PRAGMA journal_mode = WAL`,
}

const schema = `
CREATE TABLE IF NOT EXISTS scraped_movies (
	id TEXT PRIMARY KEY,
	scraped_at TEXT NOT NULL,
	raw_origin_html TEXT NOT NULL,
	place TEXT NOT NULL,
	image_url TEXT NOT NULL,
	event_name TEXT NOT NULL,
	"when" TEXT NOT NULL,
	more_info_url TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	description TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS movie_details (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	scraped_movie_id TEXT NOT NULL,
	title TEXT NOT NULL,
	director TEXT NOT NULL,
	year INTEGER NOT NULL,
	"group" TEXT NOT NULL,
	"when" TEXT NOT NULL,
	summary TEXT NOT NULL,
	image_url TEXT NOT NULL,
	more_info_url TEXT NOT NULL,
	FOREIGN KEY (scraped_movie_id) REFERENCES scraped_movies(id)
);

CREATE INDEX IF NOT EXISTS movie_details_scraped_movie_id ON movie_details (scraped_movie_id);
`

var movieColumns = []string{
	"id", "scraped_at", "raw_origin_html", "place", "image_url", "event_name",
	`"when"`, "more_info_url", "start_time", "end_time", "description",
}

// upsertSuffix overwrites every mutable column. Updating in place keeps
// movie_details rows pointing at the id valid under foreign_keys=ON.
const upsertSuffix = `ON CONFLICT(id) DO UPDATE SET
	scraped_at = excluded.scraped_at,
	raw_origin_html = excluded.raw_origin_html,
	place = excluded.place,
	image_url = excluded.image_url,
	event_name = excluded.event_name,
	"when" = excluded."when",
	more_info_url = excluded.more_info_url,
	start_time = excluded.start_time,
	end_time = excluded.end_time,
	description = excluded.description`

// Store is the SQLite handle. It is constructed once by the caller and
// shared for the lifetime of the process.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path, applies the
// connection pragmas and ensures the schema exists. ":memory:" is accepted.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("ensure data dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Pragmas are per connection and SQLite allows one writer, so the pool
	// holds exactly one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := renameLegacyColumn(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// legacyScrapedAtColumn is the column name databases created by earlier
// releases of the scraper still carry.
const legacyScrapedAtColumn = "scrapped_at"

func renameLegacyColumn(ctx context.Context, db *sql.DB) error {
	columns, err := tableColumns(ctx, db, "scraped_movies")
	if err != nil {
		return err
	}
	if !columns[legacyScrapedAtColumn] || columns["scraped_at"] {
		return nil
	}
	if _, err := db.ExecContext(ctx, `ALTER TABLE scraped_movies RENAME COLUMN `+legacyScrapedAtColumn+` TO scraped_at`); err != nil {
		return fmt.Errorf("rename %s column: %w", legacyScrapedAtColumn, err)
	}
	slog.Info("migrated scraped_movies column", slog.String("from", legacyScrapedAtColumn), slog.String("to", "scraped_at"))
	return nil
}

// tableColumns returns the column names of table, empty when it does not
// exist yet.
func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table info %s: %w", table, err)
		}
		columns[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table info %s: %w", table, err)
	}
	return columns, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts each movie or overwrites the stored row with the same id.
// Rows are written one statement at a time, so each is atomic on its own and
// an error leaves earlier rows of the batch in place.
func (s *Store) Upsert(ctx context.Context, movies []*models.ScrapedMovie) error {
	for _, m := range movies {
		if m == nil {
			continue
		}
		query := sq.Insert("scraped_movies").
			Columns(movieColumns...).
			Values(
				m.ID,
				formatTime(m.ScrapedAt),
				m.RawOriginHTML,
				m.Place,
				m.ImageURL,
				m.EventName,
				m.When,
				m.MoreInfoURL,
				m.StartTime,
				m.EndTime,
				m.Description,
			).
			Suffix(upsertSuffix).
			RunWith(s.db)
		if _, err := query.ExecContext(ctx); err != nil {
			return fmt.Errorf("exec upsert for %s: %w", m.ID, err)
		}
	}
	return nil
}

// FindUnenriched returns every scraped movie without a movie_details row,
// ordered by id.
func (s *Store) FindUnenriched(ctx context.Context) ([]*models.ScrapedMovie, error) {
	query := sq.Select(movieColumns...).
		From("scraped_movies").
		Where(`NOT EXISTS (SELECT 1 FROM movie_details WHERE movie_details.scraped_movie_id = scraped_movies.id)`).
		OrderBy("id").
		RunWith(s.db)

	rows, err := query.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query unenriched movies: %w", err)
	}
	defer rows.Close()

	var out []*models.ScrapedMovie
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unenriched movies: %w", err)
	}
	return out, nil
}

// Get fetches a single scraped movie.
func (s *Store) Get(ctx context.Context, id string) (*models.ScrapedMovie, error) {
	row := sq.Select(movieColumns...).
		From("scraped_movies").
		Where(sq.Eq{"id": id}).
		RunWith(s.db).
		QueryRowContext(ctx)

	m, err := scanMovie(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("movie %s: %w", id, ErrNotFound)
	}
	return m, err
}

// InsertDetails stores an enrichment record and returns its id. The
// referenced scraped movie must exist.
func (s *Store) InsertDetails(ctx context.Context, d models.MovieDetails) (int64, error) {
	res, err := sq.Insert("movie_details").
		Columns("scraped_movie_id", "title", "director", "year", `"group"`, `"when"`, "summary", "image_url", "more_info_url").
		Values(d.ScrapedMovieID, d.Title, d.Director, d.Year, d.Group, d.When, d.Summary, d.ImageURL, d.MoreInfoURL).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("insert details for %s: %w", d.ScrapedMovieID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMovie(row scanner) (*models.ScrapedMovie, error) {
	var (
		m         models.ScrapedMovie
		scrapedAt string
	)
	err := row.Scan(
		&m.ID,
		&scrapedAt,
		&m.RawOriginHTML,
		&m.Place,
		&m.ImageURL,
		&m.EventName,
		&m.When,
		&m.MoreInfoURL,
		&m.StartTime,
		&m.EndTime,
		&m.Description,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan movie: %w", err)
	}
	m.ScrapedAt, err = time.Parse(time.RFC3339Nano, scrapedAt)
	if err != nil {
		return nil, fmt.Errorf("parse scraped_at of %s: %w", m.ID, err)
	}
	return &m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
