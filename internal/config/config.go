// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package config loads a types.PipelineConfig from defaults, an optional
// YAML file, and environment variable overrides, using viper
// (SetConfigName/AddConfigPath/SetEnvPrefix/AutomaticEnv/ReadInConfig).
// types.Default() is layered in as the base before the file and
// environment are merged on top.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

const (
	// EnvPrefix is the environment variable prefix recognized for
	// overriding any configuration key, e.g. SCHOLARQA_ENGINE_TASKS_MAX_CONCURRENT.
	EnvPrefix = "SCHOLARQA_ENGINE"

	configName = "scholarqa-engine"
	configType = "yaml"
)

// Load builds a PipelineConfig starting from types.Default(), merging in
// cfgFile (or the discovered ./scholarqa-engine.yaml /
// ~/.config/scholarqa-engine/scholarqa-engine.yaml if cfgFile is empty), then
// applying SCHOLARQA_ENGINE_* environment overrides.
func Load(cfgFile string) (types.PipelineConfig, error) {
	v := viper.New()
	v.SetConfigType(configType)

	defaultYAML, err := yaml.Marshal(types.Default())
	if err != nil {
		return types.PipelineConfig{}, fmt.Errorf("marshaling default config: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaultYAML)); err != nil {
		return types.PipelineConfig{}, fmt.Errorf("loading default config: %w", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "scholarqa-engine"))
		}
	}

	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return types.PipelineConfig{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg types.PipelineConfig
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))
	// Keys are the snake_case yaml tags; yaml ",inline" structs are squashed.
	yamlTags := func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.Squash = true
	}
	if err := v.Unmarshal(&cfg, decodeHook, yamlTags); err != nil {
		return types.PipelineConfig{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// ApplySecrets fills cfg.APIKeys from a loaded secrets map (as returned by
// internal/secrets.Load), without overwriting a field already set.
func ApplySecrets(cfg types.PipelineConfig, secrets map[string]string) types.PipelineConfig {
	if cfg.APIKeys.AnthropicAPIKey == "" {
		cfg.APIKeys.AnthropicAPIKey = secrets["anthropic-api-key"]
	}
	if cfg.APIKeys.OpenAIAPIKey == "" {
		cfg.APIKeys.OpenAIAPIKey = secrets["openai-api-key"]
	}
	if cfg.APIKeys.S2APIKey == "" {
		cfg.APIKeys.S2APIKey = secrets["s2-api-key"]
	}
	if cfg.APIKeys.RerankerAPIKey == "" {
		cfg.APIKeys.RerankerAPIKey = secrets["reranker-api-key"]
	}
	return cfg
}
