package transformations

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rpattn/datafusion/internal/domain"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/xxh3"
)

// DefaultCacheSize bounds the number of previews kept by a CachedBuilder.
const DefaultCacheSize = 64

// BuildRecorder observes preview builds.
type BuildRecorder interface {
	ObservePreviewBuild(duration time.Duration, cached bool)
}

// CachedBuilder memoizes previews keyed by a hash of the build inputs.
// Cached previews are shared between callers and must be treated as read-only.
type CachedBuilder struct {
	builder  *Builder
	cache    *lru.Cache[uint64, domain.MergePreview]
	recorder BuildRecorder
}

// NewCachedBuilder wraps builder with an LRU of the given size.
func NewCachedBuilder(builder *Builder, size int, recorder BuildRecorder) (*CachedBuilder, error) {
	if builder == nil {
		builder = NewBuilder()
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[uint64, domain.MergePreview](size)
	if err != nil {
		return nil, fmt.Errorf("create preview cache: %w", err)
	}
	return &CachedBuilder{builder: builder, cache: cache, recorder: recorder}, nil
}

// Build returns the cached preview for identical inputs or builds and stores a new one.
func (c *CachedBuilder) Build(mappings []domain.ApprovedMapping, transforms []domain.TransformSpec, rows []domain.SourceRow) domain.MergePreview {
	start := time.Now()
	key, ok := c.key(mappings, transforms, rows)
	if ok {
		if preview, hit := c.cache.Get(key); hit {
			c.observe(start, true)
			return preview
		}
	}

	preview := c.builder.Build(mappings, transforms, rows)
	if ok {
		c.cache.Add(key, preview)
	}
	c.observe(start, false)
	return preview
}

// Purge drops every cached preview.
func (c *CachedBuilder) Purge() {
	c.cache.Purge()
}

// Len reports the number of cached previews.
func (c *CachedBuilder) Len() int {
	return c.cache.Len()
}

func (c *CachedBuilder) observe(start time.Time, cached bool) {
	if c.recorder != nil {
		c.recorder.ObservePreviewBuild(time.Since(start), cached)
	}
}

type cacheKeyInput struct {
	Strict     bool                     `json:"strict"`
	Mappings   []domain.ApprovedMapping `json:"mappings"`
	Transforms []domain.TransformSpec   `json:"transforms"`
	Rows       []domain.SourceRow       `json:"rows"`
}

// key hashes the canonical JSON encoding of the inputs. Inputs that cannot be encoded
// are built without caching.
func (c *CachedBuilder) key(mappings []domain.ApprovedMapping, transforms []domain.TransformSpec, rows []domain.SourceRow) (uint64, bool) {
	payload, err := json.Marshal(cacheKeyInput{
		Strict:     c.builder.Strict(),
		Mappings:   mappings,
		Transforms: transforms,
		Rows:       rows,
	})
	if err != nil {
		return 0, false
	}
	return xxh3.Hash(payload), true
}
