package articles

import (
	"context"
	"time"

	"github.com/livetemplate/markpad/internal/cache"
)

// CachedStore wraps a Store and caches article lookups by id.
// Writes through the wrapper invalidate the affected entries.
type CachedStore struct {
	Store
	cache cache.Cache[int64, *Article]
	ttl   time.Duration
}

// NewCached wraps inner with a lookup cache. A non-positive ttl disables caching and
// returns inner unchanged.
func NewCached(inner Store, c cache.Cache[int64, *Article], ttl time.Duration) Store {
	if ttl <= 0 || c == nil {
		return inner
	}
	return &CachedStore{Store: inner, cache: c, ttl: ttl}
}

// Get returns the article from the cache or the underlying store.
func (s *CachedStore) Get(ctx context.Context, id int64) (*Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a, found := s.cache.Get(id); found {
		return cloneArticle(a), nil
	}

	a, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(id, cloneArticle(a), s.ttl)
	return a, nil
}

// Update writes through and drops the cached copy.
func (s *CachedStore) Update(ctx context.Context, a *Article) error {
	err := s.Store.Update(ctx, a)
	s.cache.Invalidate(a.ID)
	return err
}

// Delete writes through and drops the cached copy.
func (s *CachedStore) Delete(ctx context.Context, id int64) error {
	err := s.Store.Delete(ctx, id)
	s.cache.Invalidate(id)
	return err
}

func cloneArticle(a *Article) *Article {
	c := *a
	c.Tags = append([]string(nil), a.Tags...)
	return &c
}
