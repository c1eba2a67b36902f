// Package articles stores Markdown articles and their tags in SQLite or PostgreSQL.
package articles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxTitleSize is the longest title accepted, in characters.
	MaxTitleSize = 256
	// MaxTagSize is the longest tag name accepted, in characters.
	MaxTagSize = 32
)

var (
	// ErrNotFound is returned when no article matches a lookup.
	ErrNotFound = errors.New("article not found")
	// ErrDuplicateTitle is returned when another article already has the title.
	ErrDuplicateTitle = errors.New("an article with this title already exists")
)

// Article is a stored article. Body holds Markdown.
type Article struct {
	ID    int64    `json:"id"`
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

// Filter selects articles for List. Empty fields do not filter.
type Filter struct {
	Title string   // Substring of the title
	Body  string   // Substring of the body
	Tags  []string // The article must carry all of these tags
}

// Store is the article repository used by the server and CLI.
type Store interface {
	Insert(ctx context.Context, title, body string, tags []string) (int64, error)
	Update(ctx context.Context, a *Article) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*Article, error)
	GetByTitle(ctx context.Context, title string) (*Article, error)
	List(ctx context.Context, f Filter) ([]*Article, error)
	Related(ctx context.Context, id int64, limit int) ([]*Article, error)
	Close() error
}

// ValidationError reports an article field that was rejected before reaching the database.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// validate checks title and tags and returns the normalized tag list.
func validate(title string, tags []string) ([]string, error) {
	if strings.TrimSpace(title) == "" {
		return nil, &ValidationError{Field: "title", Message: "title is required"}
	}
	if utf8.RuneCountInString(title) > MaxTitleSize {
		return nil, &ValidationError{Field: "title", Message: fmt.Sprintf("title is too long (max %d characters)", MaxTitleSize)}
	}

	normalized := normalizeTags(tags)
	for _, tag := range normalized {
		if utf8.RuneCountInString(tag) > MaxTagSize {
			return nil, &ValidationError{Field: "tags", Message: fmt.Sprintf("tag name %q is too long (max %d characters)", tag, MaxTagSize)}
		}
	}
	return normalized, nil
}

// normalizeTags trims tags and drops empties and duplicates, keeping first-seen order.
func normalizeTags(tags []string) []string {
	normalized := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		normalized = append(normalized, tag)
	}
	return normalized
}

// escapeLike escapes the LIKE wildcards in s so it matches literally with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
