package articles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq" // PostgreSQL driver
	"modernc.org/sqlite" // Pure Go SQLite driver
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS article (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title VARCHAR(256) NOT NULL UNIQUE,
		body TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS tag (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name VARCHAR(32) NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS article_tag (
		article_id INTEGER NOT NULL REFERENCES article(id) ON DELETE CASCADE,
		tag_id INTEGER NOT NULL REFERENCES tag(id),
		PRIMARY KEY (article_id, tag_id)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS article (
		id BIGSERIAL PRIMARY KEY,
		title VARCHAR(256) NOT NULL UNIQUE,
		body TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS tag (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(32) NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS article_tag (
		article_id BIGINT NOT NULL REFERENCES article(id) ON DELETE CASCADE,
		tag_id BIGINT NOT NULL REFERENCES tag(id),
		PRIMARY KEY (article_id, tag_id)
	)`,
}

// SQLStore is a Store backed by database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
	debug  bool
}

// Open connects to the database and creates the schema if needed.
// For sqlite the dsn is a file path; for postgres it is a connection URL.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("article store: dsn is required")
	}

	var schema []string
	switch driver {
	case DriverSQLite:
		schema = sqliteSchema
	case DriverPostgres:
		schema = postgresSchema
	default:
		return nil, fmt.Errorf("article store: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("article store: failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// One connection keeps the foreign_keys pragma in effect and serializes writers.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("article store: failed to connect: %w", err)
	}

	if driver == DriverSQLite {
		// LIKE matches case-sensitively, as it does on postgres
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA case_sensitive_like = ON"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("article store: %s: %w", pragma, err)
			}
		}
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("article store: create schema: %w", err)
		}
	}

	return &SQLStore{db: db, driver: driver}, nil
}

// SetDebug enables query logging.
func (s *SQLStore) SetDebug(debug bool) {
	s.debug = debug
}

// Close releases the database connection
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DropAll drops every table of the store.
func (s *SQLStore) DropAll(ctx context.Context) error {
	for _, table := range []string{"article_tag", "tag", "article"} {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}

// Insert stores a new article with its tags and returns its id.
// Tags that already exist are reused.
func (s *SQLStore) Insert(ctx context.Context, title, body string, tags []string) (int64, error) {
	tags, err := validate(title, tags)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind("INSERT INTO article (title, body) VALUES (?, ?) RETURNING id"), title, body)
		if err := row.Scan(&id); err != nil {
			return s.translate(err)
		}
		return s.attachTags(ctx, tx, id, tags)
	})
	if err != nil {
		return 0, err
	}

	if s.debug {
		log.Printf("[Store] Inserted article %d %q with %d tags", id, title, len(tags))
	}
	return id, nil
}

// Update replaces the title, body and tags of an existing article.
func (s *SQLStore) Update(ctx context.Context, a *Article) error {
	tags, err := validate(a.Title, a.Tags)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind("UPDATE article SET title = ?, body = ? WHERE id = ?"), a.Title, a.Body, a.ID)
		if err != nil {
			return s.translate(err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM article_tag WHERE article_id = ?"), a.ID); err != nil {
			return fmt.Errorf("clear tags: %w", err)
		}
		return s.attachTags(ctx, tx, a.ID, tags)
	})
}

// Delete removes an article. Its tags are kept for other articles.
func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM article_tag WHERE article_id = ?"), id); err != nil {
			return fmt.Errorf("delete tags: %w", err)
		}
		res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM article WHERE id = ?"), id)
		if err != nil {
			return fmt.Errorf("delete article: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Get returns the article with the given id.
func (s *SQLStore) Get(ctx context.Context, id int64) (*Article, error) {
	return s.getOne(ctx, "SELECT id, title, body FROM article WHERE id = ?", id)
}

// GetByTitle returns the article with exactly the given title.
func (s *SQLStore) GetByTitle(ctx context.Context, title string) (*Article, error) {
	return s.getOne(ctx, "SELECT id, title, body FROM article WHERE title = ?", title)
}

// List returns articles whose title and body contain the filter substrings and that
// carry every filter tag, ordered by id.
func (s *SQLStore) List(ctx context.Context, f Filter) ([]*Article, error) {
	var (
		where []string
		args  []interface{}
	)

	if f.Title != "" {
		where = append(where, `a.title LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(f.Title)+"%")
	}
	if f.Body != "" {
		where = append(where, `a.body LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(f.Body)+"%")
	}

	// No stored tag is longer than MaxTagSize, so an overlong filter tag just matches nothing
	if tags := normalizeTags(f.Tags); len(tags) > 0 {
		where = append(where, fmt.Sprintf(`a.id IN (
			SELECT atg.article_id FROM article_tag atg
			JOIN tag t ON t.id = atg.tag_id
			WHERE t.name IN (%s)
			GROUP BY atg.article_id
			HAVING COUNT(DISTINCT t.id) = ?)`, placeholders(len(tags))))
		for _, tag := range tags {
			args = append(args, tag)
		}
		args = append(args, len(tags))
	}

	query := "SELECT a.id, a.title, a.body FROM article a"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY a.id"

	return s.query(ctx, query, args...)
}

// Related returns up to limit articles sharing at least one tag with the article,
// best matches first. The article itself is never included.
func (s *SQLStore) Related(ctx context.Context, id int64, limit int) ([]*Article, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT a.id, a.title, a.body FROM article a
		JOIN article_tag atg ON atg.article_id = a.id
		WHERE atg.tag_id IN (SELECT tag_id FROM article_tag WHERE article_id = ?)
		AND a.id <> ?
		GROUP BY a.id, a.title, a.body
		ORDER BY COUNT(*) DESC, a.id ASC
		LIMIT ?`

	return s.query(ctx, query, id, id, limit)
}

func (s *SQLStore) getOne(ctx context.Context, query string, arg interface{}) (*Article, error) {
	list, err := s.query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

// query runs an article SELECT (id, title, body) and loads the tags of the results.
func (s *SQLStore) query(ctx context.Context, query string, args ...interface{}) ([]*Article, error) {
	query = s.rebind(query)
	if s.debug {
		log.Printf("[Store] %s %v", query, args)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}

	var list []*Article
	byID := make(map[int64]*Article)
	for rows.Next() {
		a := &Article{Tags: []string{}}
		if err := rows.Scan(&a.ID, &a.Title, &a.Body); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan article: %w", err)
		}
		list = append(list, a)
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(list) == 0 {
		return list, nil
	}
	if err := s.loadTags(ctx, byID); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *SQLStore) loadTags(ctx context.Context, byID map[int64]*Article) error {
	ids := make([]interface{}, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	query := fmt.Sprintf(`SELECT atg.article_id, t.name FROM article_tag atg
		JOIN tag t ON t.id = atg.tag_id
		WHERE atg.article_id IN (%s)
		ORDER BY t.name`, placeholders(len(ids)))

	rows, err := s.db.QueryContext(ctx, s.rebind(query), ids...)
	if err != nil {
		return fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			articleID int64
			name      string
		)
		if err := rows.Scan(&articleID, &name); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		if a, ok := byID[articleID]; ok {
			a.Tags = append(a.Tags, name)
		}
	}
	return rows.Err()
}

// attachTags links the article to the named tags, creating missing ones.
func (s *SQLStore) attachTags(ctx context.Context, tx *sql.Tx, articleID int64, tags []string) error {
	for _, name := range tags {
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO tag (name) VALUES (?) ON CONFLICT (name) DO NOTHING"), name); err != nil {
			return fmt.Errorf("create tag %q: %w", name, err)
		}

		var tagID int64
		if err := tx.QueryRowContext(ctx, s.rebind("SELECT id FROM tag WHERE name = ?"), name).Scan(&tagID); err != nil {
			return fmt.Errorf("look up tag %q: %w", name, err)
		}

		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO article_tag (article_id, tag_id) VALUES (?, ?)"), articleID, tagID); err != nil {
			return fmt.Errorf("link tag %q: %w", name, err)
		}
	}
	return nil
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && s.debug {
			log.Printf("[Store] Rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.translate(err)
	}
	return nil
}

// translate maps unique violations on the title to ErrDuplicateTitle.
func (s *SQLStore) translate(err error) error {
	if isUniqueViolation(err) {
		return ErrDuplicateTitle
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
