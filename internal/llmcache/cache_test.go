package llmcache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledCacheNeverHits(t *testing.T) {
	c, err := New(false, 10, "")
	require.NoError(t, err)
	c.Put("k", Entry{Content: "x"})
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestMemoryHitRoundTrips(t *testing.T) {
	c, err := New(true, 10, "")
	require.NoError(t, err)

	key := Key("claude-sonnet", "sys", "user", Options{Temperature: 0.2})
	c.Put(key, Entry{Content: "hello", Model: "claude-sonnet", InputTokens: 5, OutputTokens: 2})

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Content)
}

func TestKeyIsStableAcrossSchemaFieldOrder(t *testing.T) {
	k1 := Key("m", "s", "u", Options{ResponseSchema: `{"a":1,"b":2}`})
	k2 := Key("m", "s", "u", Options{ResponseSchema: `{"b":2,"a":1}`})
	assert.Equal(t, k1, k2)
}

func TestDiskShardSurvivesFreshCacheInstance(t *testing.T) {
	dir := t.TempDir()
	c1, err := New(true, 10, dir)
	require.NoError(t, err)
	key := Key("m", "s", "u", Options{})
	c1.Put(key, Entry{Content: "persisted"})

	c2, err := New(true, 10, dir)
	require.NoError(t, err)
	got, ok := c2.Get(key)
	require.True(t, ok)
	assert.Equal(t, "persisted", got.Content)
	assert.FileExists(t, filepath.Join(dir, key+".json"))
}
