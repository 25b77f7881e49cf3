// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llmcache implements the Model-Call Cache: a content-addressed,
// size-bounded LRU cache of (model, system, user, normalized options) to
// completion. Entries carry the full token-count record so cache hits
// still contribute accurate cost accounting.
package llmcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is a cached completion plus the accounting needed to record a
// cache hit as "cached": true without re-running the call.
type Entry struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Options is the subset of completion options that affect the output and
// therefore participate in the cache key. Fields like Timeout or
// RetryCount do not change the result and are excluded.
type Options struct {
	Temperature    float64
	MaxTokens      int
	ResponseSchema string
	ExtraCacheKey  string
}

// Cache is a process-wide, size-bounded LRU keyed by a stable hash of the
// call inputs, with an optional on-disk shard (a directory of one file
// per key) so entries survive process restarts.
type Cache struct {
	enabled bool
	mem     *lru.Cache[string, Entry]
	diskDir string
}

// New constructs a Cache. maxEntries bounds the in-memory LRU; diskDir, if
// non-empty, is a directory of one JSON file per key, checked on miss and
// written on every insert, the same directory-of-files convention
// internal/secrets uses for credential files.
func New(enabled bool, maxEntries int, diskDir string) (*Cache, error) {
	if !enabled {
		return &Cache{enabled: false}, nil
	}
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	mem, err := lru.New[string, Entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("constructing LRU: %w", err)
	}
	if diskDir != "" {
		if err := os.MkdirAll(diskDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating llm cache directory: %w", err)
		}
	}
	return &Cache{enabled: true, mem: mem, diskDir: diskDir}, nil
}

// Key computes the stable cache key for a call: SHA-256 over the model
// id, system text, user text, and normalized options.
func Key(modelID, systemText, userText string, opts Options) string {
	h := sha256.New()
	fmt.Fprintf(h, "model=%s\x00system=%s\x00user=%s\x00", modelID, systemText, userText)
	fmt.Fprintf(h, "temperature=%.4f\x00max_tokens=%d\x00schema=%s\x00extra=%s",
		opts.Temperature, opts.MaxTokens, normalizeSchema(opts.ResponseSchema), opts.ExtraCacheKey)
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeSchema sorts a JSON-ish schema string's top-level content so
// equivalent schemas written in a different field order hash identically.
// Falls back to the raw string if it is not parseable JSON.
func normalizeSchema(schema string) string {
	if schema == "" {
		return ""
	}
	var v any
	if err := json.Unmarshal([]byte(schema), &v); err != nil {
		return schema
	}
	normalized := normalizeValue(v)
	out, err := json.Marshal(normalized)
	if err != nil {
		return schema
	}
	return string(out)
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = normalizeValue(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return t
	}
}

// Get returns the cached Entry for key, if present. It checks the
// in-memory LRU first, then falls back to the on-disk shard (promoting
// any disk hit back into memory).
func (c *Cache) Get(key string) (Entry, bool) {
	if !c.enabled {
		return Entry{}, false
	}
	if e, ok := c.mem.Get(key); ok {
		return e, true
	}
	if c.diskDir == "" {
		return Entry{}, false
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false
	}
	c.mem.Add(key, e)
	return e, true
}

// Put stores an Entry under key, in memory and on disk if configured.
func (c *Cache) Put(key string, e Entry) {
	if !c.enabled {
		return
	}
	c.mem.Add(key, e)
	if c.diskDir == "" {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	_ = os.WriteFile(c.path(key), data, 0o644)
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.diskDir, key+".json")
}

// Enabled reports whether caching is active.
func (c *Cache) Enabled() bool {
	return c != nil && c.enabled
}
