package cache

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetSet(t *testing.T) {
	c := New("test", 10, time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, int64(1), st.Sets)
	assert.InDelta(t, 0.5, st.HitRate, 0.001)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New("test", 10, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Set("a", "x")

	now = now.Add(59 * time.Second)
	_, ok := c.Get("a")
	assert.True(t, ok, "entry should survive inside TTL")

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry should expire past TTL")
	assert.Equal(t, 0, c.Stats().Size, "expired entry is removed on read")
}

func TestCache_LRUEviction(t *testing.T) {
	c := New("test", 3, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Touch "a" so "b" becomes the least recently used.
	_, _ = c.Get("a")

	c.Set("d", 4)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("d")
	assert.True(t, ok)

	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_SetExistingRefreshes(t *testing.T) {
	c := New("test", 2, time.Minute)
	c.Set("a", 1)
	c.Set("a", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Stats().Size)
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := New("test", 10, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Stats().Size)
	// Counters survive a clear.
	assert.Equal(t, int64(2), c.Stats().Sets)
}

func TestCache_Concurrent(t *testing.T) {
	c := New("test", 100, time.Minute)
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%50)
				c.Set(key, g)
				c.Get(key)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	assert.LessOrEqual(t, c.Stats().Size, 100)
}

func TestMappingKey(t *testing.T) {
	assert.Equal(t, "ayurveda:AAA-1", MappingKey("Ayurveda", "AAA-1"))
}

func TestEmbeddingKey_Truncation(t *testing.T) {
	long := strings.Repeat("x", 150)
	assert.Equal(t, EmbeddingKey(long), EmbeddingKey(long[:100]),
		"key must depend only on the first 100 chars")
	assert.NotEqual(t, EmbeddingKey("abc"), EmbeddingKey("abd"))
}

func TestRequestKey_ParamOrderIndependent(t *testing.T) {
	a := RequestKey("/mapping", map[string]string{"system": "ayurveda", "q": "fever"}, nil)
	b := RequestKey("/mapping", map[string]string{"q": "fever", "system": "ayurveda"}, nil)
	assert.Equal(t, a, b)

	withBody := RequestKey("/mapping", nil, []byte(`{"code":"AAA-1"}`))
	assert.NotEqual(t, RequestKey("/mapping", nil, nil), withBody)
}

func TestLayer_StatsAll(t *testing.T) {
	l := NewLayer()
	l.Mappings.Set("a", 1)

	stats := l.StatsAll()
	require.Len(t, stats, 4)
	names := make([]string, len(stats))
	for i, s := range stats {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"embeddings", "fhir", "mappings", "search"}, names)
}
