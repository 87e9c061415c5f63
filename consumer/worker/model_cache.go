package worker

import (
	"container/list"
	"context"
	"sync"

	"github.com/scribe-rabbit/scribe-orchestrator/infra"
)

// ModelCache keeps loaded transcription models resident between jobs so
// consecutive jobs on the same model skip the load cost. It is private
// to one worker process. Least-recently-used models are unloaded when
// the configured memory budget is exceeded.
type ModelCache struct {
	mu      sync.Mutex
	budget  int64
	used    int64
	loader  infra.TranscriberLoader
	entries map[string]*list.Element
	lru     *list.List // front = most recently used
}

type cacheEntry struct {
	key   string
	model infra.Transcriber
}

func NewModelCache(budget int64, loader infra.TranscriberLoader) *ModelCache {
	return &ModelCache{
		budget:  budget,
		loader:  loader,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Get returns the cached model for engine/model, loading it on a miss.
// Loads are serialized; with a handful of job slots per GPU that is the
// behavior we want anyway.
func (c *ModelCache) Get(ctx context.Context, engine, model string) (infra.Transcriber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := engine + "/" + model
	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).model, nil
	}

	loaded, err := c.loader(ctx, engine, model)
	if err != nil {
		return nil, err
	}

	elem := c.lru.PushFront(&cacheEntry{key: key, model: loaded})
	c.entries[key] = elem
	c.used += loaded.SizeBytes()

	// Evict oldest entries until back under budget. The entry just
	// loaded is never evicted, even if it alone exceeds the budget.
	for c.used > c.budget && c.lru.Len() > 1 {
		oldest := c.lru.Back()
		entry := oldest.Value.(*cacheEntry)
		c.lru.Remove(oldest)
		delete(c.entries, entry.key)
		c.used -= entry.model.SizeBytes()
		_ = entry.model.Close()
	}

	return loaded, nil
}

// Len reports the number of resident models.
func (c *ModelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// UsedBytes reports the memory the resident models account for.
func (c *ModelCache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Close unloads every resident model.
func (c *ModelCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		_ = elem.Value.(*cacheEntry).model.Close()
	}
	c.lru.Init()
	c.entries = make(map[string]*list.Element)
	c.used = 0
}
