// Package index maintains an ephemeral SQLite query layer rebuilt from the
// published citations document.
package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/matsen/citewatch/internal/dataset"
	"github.com/matsen/citewatch/internal/work"
)

// DefaultLimit bounds query results when no limit is given.
const DefaultLimit = 50

// DB wraps a SQLite database connection.
type DB struct {
	db *sql.DB
}

// selectWorkFields contains the standard field list for SELECT queries.
const selectWorkFields = `id, doi, title, pub_year, venue, landing_page_url,
	cited_by_count, authors_json, tags_json`

// Open opens or creates the database at path, creating parent directories.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS works (
			id TEXT PRIMARY KEY,
			doi TEXT,
			title TEXT NOT NULL,
			pub_year INTEGER,
			venue TEXT,
			landing_page_url TEXT,
			cited_by_count INTEGER NOT NULL DEFAULT 0,
			authors_json TEXT NOT NULL,
			tags_json TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS work_tags (
			work_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY (work_id, tag)
		);
		CREATE INDEX IF NOT EXISTS idx_work_tags_tag ON work_tags(tag);

		CREATE TABLE IF NOT EXISTS work_authors (
			work_id TEXT NOT NULL,
			name TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_work_authors_name ON work_authors(name);

		-- Full-text search over the fields a reader searches by
		CREATE VIRTUAL TABLE IF NOT EXISTS works_fts USING fts5(
			id,
			title,
			venue,
			authors_text
		);
	`

	_, err := db.Exec(schema)
	return err
}

// RebuildFromFile clears the database and reloads it from a citations document.
// A missing document leaves an empty index.
func (d *DB) RebuildFromFile(path string) (int, error) {
	doc, err := dataset.ReadCitations(path)
	if err != nil {
		return 0, fmt.Errorf("reading citations: %w", err)
	}
	var works []work.Work
	if doc != nil {
		works = doc.Results
	}
	return d.Rebuild(works)
}

// Rebuild replaces the indexed works.
func (d *DB) Rebuild(works []work.Work) (int, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"works", "work_tags", "work_authors", "works_fts"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return 0, fmt.Errorf("clearing %s table: %w", table, err)
		}
	}

	worksStmt, err := tx.Prepare(`
		INSERT INTO works (
			id, doi, title, pub_year, venue, landing_page_url,
			cited_by_count, authors_json, tags_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("preparing works insert: %w", err)
	}
	defer worksStmt.Close()

	tagStmt, err := tx.Prepare(`INSERT OR IGNORE INTO work_tags (work_id, tag) VALUES (?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing tags insert: %w", err)
	}
	defer tagStmt.Close()

	authorStmt, err := tx.Prepare(`INSERT INTO work_authors (work_id, name) VALUES (?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing authors insert: %w", err)
	}
	defer authorStmt.Close()

	ftsStmt, err := tx.Prepare(`INSERT INTO works_fts (id, title, venue, authors_text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing fts insert: %w", err)
	}
	defer ftsStmt.Close()

	for _, w := range works {
		authorsJSON, err := json.Marshal(w.Authorships)
		if err != nil {
			return 0, fmt.Errorf("marshaling authors for %s: %w", w.ID, err)
		}
		tags := w.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, err := json.Marshal(tags)
		if err != nil {
			return 0, fmt.Errorf("marshaling tags for %s: %w", w.ID, err)
		}

		_, err = worksStmt.Exec(
			w.ID, nullableString(w.DOI), w.Title, nullableYear(w.PublicationYear),
			nullableString(w.HostVenue), nullableString(w.LandingPageURL),
			w.CitedByCount, string(authorsJSON), string(tagsJSON),
		)
		if err != nil {
			return 0, fmt.Errorf("inserting work %s: %w", w.ID, err)
		}

		for _, tag := range tags {
			if _, err := tagStmt.Exec(w.ID, tag); err != nil {
				return 0, fmt.Errorf("inserting tag for %s: %w", w.ID, err)
			}
		}

		names := make([]string, 0, len(w.Authorships))
		for _, a := range w.Authorships {
			if a.Name == "" {
				continue
			}
			names = append(names, a.Name)
			if _, err := authorStmt.Exec(w.ID, a.Name); err != nil {
				return 0, fmt.Errorf("inserting author for %s: %w", w.ID, err)
			}
		}

		if _, err := ftsStmt.Exec(w.ID, w.Title, w.HostVenue, strings.Join(names, ", ")); err != nil {
			return 0, fmt.Errorf("inserting fts for %s: %w", w.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing rebuild: %w", err)
	}
	return len(works), nil
}

// Filters narrows a query. Every set field must match (AND logic).
type Filters struct {
	Keyword  string // Full-text over title, venue and authors
	Tag      string // Exact tag
	Author   string // Author name, prefix match per word
	YearFrom int    // Minimum publication year (0 = no minimum)
	YearTo   int    // Maximum publication year (0 = no maximum)
	Venue    string // Venue substring, case-insensitive
}

// Query returns matching works ordered by cited-by count descending, then id.
func (d *DB) Query(f Filters, limit int) ([]work.Work, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var ftsTerms []string
	var args []interface{}

	if f.Keyword != "" {
		ftsTerms = append(ftsTerms, prepareFTSQuery(f.Keyword))
	}
	if f.Author != "" {
		ftsTerms = append(ftsTerms, "authors_text:"+prepareAuthorQuery(f.Author))
	}

	query := `SELECT ` + selectWorkFields + ` FROM works WHERE 1=1`
	if len(ftsTerms) > 0 {
		query += ` AND id IN (SELECT id FROM works_fts WHERE works_fts MATCH ?)`
		args = append(args, strings.Join(ftsTerms, " AND "))
	}
	if f.Tag != "" {
		query += ` AND id IN (SELECT work_id FROM work_tags WHERE tag = ?)`
		args = append(args, f.Tag)
	}
	if f.YearFrom > 0 {
		query += " AND pub_year >= ?"
		args = append(args, f.YearFrom)
	}
	if f.YearTo > 0 {
		query += " AND pub_year <= ?"
		args = append(args, f.YearTo)
	}
	if f.Venue != "" {
		query += " AND venue LIKE ?"
		args = append(args, "%"+f.Venue+"%")
	}

	query += " ORDER BY cited_by_count DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying works: %w", err)
	}
	defer rows.Close()

	return scanWorks(rows)
}

// TagCount is a tag with its number of works.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// TagCounts returns every tag by descending count, then name.
func (d *DB) TagCounts() ([]TagCount, error) {
	rows, err := d.db.Query(`
		SELECT tag, COUNT(*) AS n FROM work_tags
		GROUP BY tag ORDER BY n DESC, tag`)
	if err != nil {
		return nil, fmt.Errorf("counting tags: %w", err)
	}
	defer rows.Close()

	var out []TagCount
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// Count returns the number of indexed works.
func (d *DB) Count() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM works").Scan(&count)
	return count, err
}

// scanner interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWork(s scanner) (*work.Work, error) {
	var w work.Work
	var doi, venue, landing sql.NullString
	var year sql.NullInt64
	var authorsJSON, tagsJSON string

	err := s.Scan(&w.ID, &doi, &w.Title, &year, &venue, &landing,
		&w.CitedByCount, &authorsJSON, &tagsJSON)
	if err != nil {
		return nil, err
	}

	w.DOI = doi.String
	w.HostVenue = venue.String
	w.LandingPageURL = landing.String
	if year.Valid {
		w.PublicationYear = int(year.Int64)
	}

	if err := json.Unmarshal([]byte(authorsJSON), &w.Authorships); err != nil {
		return nil, fmt.Errorf("parsing authors JSON for %s: %w", w.ID, err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &w.Tags); err != nil {
		return nil, fmt.Errorf("parsing tags JSON for %s: %w", w.ID, err)
	}
	return &w, nil
}

func scanWorks(rows *sql.Rows) ([]work.Work, error) {
	var works []work.Work
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, err
		}
		works = append(works, *w)
	}
	return works, rows.Err()
}

// nullableString converts a string to sql.NullString, treating empty as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableYear(y int) sql.NullInt64 {
	if y == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(y), Valid: true}
}

// prepareFTSQuery escapes special characters for FTS5 queries.
func prepareFTSQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return query
	}

	// If query contains special chars, quote it as a phrase
	if strings.ContainsAny(query, "\"*+-:(){}[]^~/.,") {
		query = strings.ReplaceAll(query, "\"", "\"\"")
		return "\"" + query + "\""
	}

	return query
}

// prepareAuthorQuery matches any word of an author name by prefix,
// so "Tim" matches "Timothy".
func prepareAuthorQuery(author string) string {
	parts := strings.Fields(author)
	terms := make([]string, 0, len(parts))
	for _, part := range parts {
		escaped := strings.ReplaceAll(part, "\"", "\"\"")
		terms = append(terms, "\""+escaped+"\"*")
	}
	return "(" + strings.Join(terms, " OR ") + ")"
}
