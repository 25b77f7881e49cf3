package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

func TestLoadWithNoFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, types.Default().Tasks, cfg.Tasks)
	assert.Equal(t, types.Default().Pipeline.LLM, cfg.Pipeline.LLM)
}

func TestLoadMergesFileOverOneFieldOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tasks:\n  max_concurrent: 9\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Tasks.MaxConcurrent)
	assert.Equal(t, types.Default().Tasks.TimeoutSeconds, cfg.Tasks.TimeoutSeconds)
	assert.Equal(t, types.Default().Pipeline.LLM, cfg.Pipeline.LLM)
}

func TestLoadUnknownExplicitFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplySecretsFillsEmptyFieldsOnly(t *testing.T) {
	cfg := types.Default()
	cfg.APIKeys.AnthropicAPIKey = "already-set"

	cfg = ApplySecrets(cfg, map[string]string{
		"anthropic-api-key": "should-not-override",
		"openai-api-key":    "openai-key",
		"s2-api-key":        "s2-key",
		"reranker-api-key":  "reranker-key",
	})

	assert.Equal(t, "already-set", cfg.APIKeys.AnthropicAPIKey)
	assert.Equal(t, "openai-key", cfg.APIKeys.OpenAIAPIKey)
	assert.Equal(t, "s2-key", cfg.APIKeys.S2APIKey)
	assert.Equal(t, "reranker-key", cfg.APIKeys.RerankerAPIKey)
}
