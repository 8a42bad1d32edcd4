// Package cache provides the in-process bounded LRU caches used on the
// translate and search paths. Entries expire lazily on read; capacity is
// enforced on write by evicting the least recently used entry.
package cache

import (
	"container/list"
	"crypto/md5"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of one cache's counters.
type Stats struct {
	Name      string  `json:"name"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Sets      int64   `json:"sets"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	HitRate   float64 `json:"hit_rate"`
}

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// Cache is a bounded LRU cache with a fixed TTL per entry.
type Cache struct {
	name     string
	capacity int
	ttl      time.Duration

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element

	hits      int64
	misses    int64
	sets      int64
	evictions int64

	now func() time.Time
}

func New(name string, capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		name:     name,
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns the value stored under key iff it has not expired. Expired
// entries are removed and counted as misses.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	en := el.Value.(*entry)
	if c.now().After(en.expiresAt) {
		c.removeElement(el)
		c.misses++
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	return en.value, true
}

// Set stores value under key, evicting the least recently used entry when at
// capacity.
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sets++
	if el, ok := c.items[key]; ok {
		en := el.Value.(*entry)
		en.value = value
		en.expiresAt = c.now().Add(c.ttl)
		c.ll.MoveToFront(el)
		return
	}

	if c.ll.Len() >= c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.removeElement(oldest)
			c.evictions++
		}
	}

	el := c.ll.PushFront(&entry{key: key, value: value, expiresAt: c.now().Add(c.ttl)})
	c.items[key] = el
}

// Delete removes a single entry.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Clear removes all entries but keeps the counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

func (c *Cache) removeElement(el *list.Element) {
	en := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.items, en.key)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Name:      c.name,
		Hits:      c.hits,
		Misses:    c.misses,
		Sets:      c.sets,
		Evictions: c.evictions,
		Size:      c.ll.Len(),
		Capacity:  c.capacity,
		HitRate:   rate,
	}
}

// Layer bundles the four named caches the service runs with.
type Layer struct {
	Mappings   *Cache
	Embeddings *Cache
	Search     *Cache
	FHIR       *Cache
}

// NewLayer builds the cache layer with the standard sizes and TTLs.
func NewLayer() *Layer {
	return &Layer{
		Mappings:   New("mappings", 2000, time.Hour),
		Embeddings: New("embeddings", 5000, 24*time.Hour),
		Search:     New("search", 1000, 5*time.Minute),
		FHIR:       New("fhir", 1000, 10*time.Minute),
	}
}

// All returns the caches keyed by name for the admin endpoints.
func (l *Layer) All() map[string]*Cache {
	return map[string]*Cache{
		"mappings":   l.Mappings,
		"embeddings": l.Embeddings,
		"search":     l.Search,
		"fhir":       l.FHIR,
	}
}

// StatsAll returns stats for every cache, ordered by name.
func (l *Layer) StatsAll() []Stats {
	all := l.All()
	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Stats, 0, len(names))
	for _, n := range names {
		out = append(out, all[n].Stats())
	}
	return out
}

// MappingKey builds the mappings-cache key for a source code.
func MappingKey(system, code string) string {
	return strings.ToLower(system) + ":" + code
}

// EmbeddingKey derives the embeddings-cache key from the first 100 characters
// of the text. Truncation is deterministic so concurrent callers agree.
func EmbeddingKey(text string) string {
	runes := []rune(text)
	if len(runes) > 100 {
		runes = runes[:100]
	}
	return fmt.Sprintf("%x", md5.Sum([]byte(string(runes))))
}

// RequestKey builds a search/fhir cache key from the request path, its sorted
// query parameters, and an optional body hash.
func RequestKey(path string, params map[string]string, body []byte) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(path)
	for _, k := range keys {
		b.WriteByte('?')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	if len(body) > 0 {
		b.WriteString(fmt.Sprintf("#%x", md5.Sum(body)))
	}
	return b.String()
}
