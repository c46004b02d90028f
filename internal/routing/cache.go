package routing

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/coreflux-ai/agentrouter/internal/tasktype"
)

// defaultCacheCapacity mirrors the lineage's in-memory cache: once the
// cache holds this many entries, the next Put clears it wholesale before
// inserting rather than evicting entry-by-entry, trading a brief cold spell for a trivially
// correct bound on memory use.
const defaultCacheCapacity = 1000

// Cache is the bounded routing decision cache consulted ahead of
// classification. Implementations must be safe for concurrent use.
type Cache interface {
	Get(key string) (*tasktype.Decision, bool)
	Put(key string, decision *tasktype.Decision)
	Key(query string, context map[string]any) string
}

// memoryCache is the default Cache: an unbounded-until-capacity map
// guarded by a mutex, keyed on an MD5 digest of the normalized query plus
// a canonical JSON encoding of the routing context.
type memoryCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*tasktype.Decision
}

func NewMemoryCache(capacity int) Cache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &memoryCache{capacity: capacity, entries: make(map[string]*tasktype.Decision)}
}

func (c *memoryCache) Get(key string) (*tasktype.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

func (c *memoryCache) Put(key string, decision *tasktype.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.capacity {
		c.entries = make(map[string]*tasktype.Decision)
	}
	c.entries[key] = decision.Clone()
}

// Key builds a cache key from the lowercased, trimmed query and a
// sorted-key JSON encoding of context, so that two logically identical
// contexts presented with different map iteration order hash the same.
func (c *memoryCache) Key(query string, context map[string]any) string {
	normalized := strings.TrimSpace(strings.ToLower(query))

	var ctxPart string
	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]any, len(context))
		for _, k := range keys {
			ordered[k] = context[k]
		}
		if b, err := json.Marshal(ordered); err == nil {
			ctxPart = string(b)
		}
	}

	h := md5.Sum([]byte(normalized + "|" + ctxPart))
	return hex.EncodeToString(h[:])
}
