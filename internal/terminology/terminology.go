// Package terminology answers "does code X specialize class code Y". The
// engine only consumes the Oracle interface; concrete vocabularies live here.
package terminology

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"actgraph/internal/domain"
)

type Oracle interface {
	Specializes(ctx context.Context, code, classCode domain.Code) (bool, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, code, classCode domain.Code) (bool, error)

func (f OracleFunc) Specializes(ctx context.Context, code, classCode domain.Code) (bool, error) {
	return f(ctx, code, classCode)
}

// Table is a static specialization hierarchy. A code specializes a class when
// it equals the class or is listed under it, directly or through an
// intermediate code that is itself listed.
type Table struct {
	children      map[domain.Code][]domain.Code
	allowUnlisted bool
}

// NewTable builds a Table from "system#code" strings keyed by class code.
// With allowUnlisted, classes missing from the table accept any code.
func NewTable(specializations map[string][]string, allowUnlisted bool) *Table {
	t := &Table{children: map[domain.Code][]domain.Code{}, allowUnlisted: allowUnlisted}
	for class, codes := range specializations {
		parent := domain.ParseCode(class)
		for _, c := range codes {
			t.children[parent] = append(t.children[parent], domain.ParseCode(c))
		}
	}
	return t
}

func (t *Table) Specializes(ctx context.Context, code, classCode domain.Code) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if code.Equal(classCode) {
		return true, nil
	}
	if _, listed := t.children[classCode]; !listed {
		return t.allowUnlisted, nil
	}
	seen := map[domain.Code]bool{classCode: true}
	queue := []domain.Code{classCode}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range t.children[cur] {
			if child.Equal(code) {
				return true, nil
			}
			if !seen[child] {
				seen[child] = true
				queue = append(queue, child)
			}
		}
	}
	return false, nil
}

type cacheKey struct {
	code, class domain.Code
}

// Cached memoizes answers of a slower oracle. Errors are never cached.
type Cached struct {
	inner   Oracle
	cache   *lru.Cache[cacheKey, bool]
	hits    atomic.Uint64
	misses  atomic.Uint64
	observe func(hit bool)
}

type CacheOption func(*Cached)

// WithObserver is called on every lookup with whether it was served from cache.
func WithObserver(fn func(hit bool)) CacheOption {
	return func(c *Cached) { c.observe = fn }
}

func NewCached(inner Oracle, size int, opts ...CacheOption) (*Cached, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[cacheKey, bool](size)
	if err != nil {
		return nil, fmt.Errorf("create terminology cache: %w", err)
	}
	c := &Cached{inner: inner, cache: cache}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cached) Specializes(ctx context.Context, code, classCode domain.Code) (bool, error) {
	key := cacheKey{code: code, class: classCode}
	if v, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		c.notify(true)
		return v, nil
	}
	c.misses.Add(1)
	c.notify(false)
	v, err := c.inner.Specializes(ctx, code, classCode)
	if err != nil {
		return false, err
	}
	c.cache.Add(key, v)
	return v, nil
}

func (c *Cached) notify(hit bool) {
	if c.observe != nil {
		c.observe(hit)
	}
}

// Stats returns cache hits and misses since creation.
func (c *Cached) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Purge drops every cached answer.
func (c *Cached) Purge() { c.cache.Purge() }
