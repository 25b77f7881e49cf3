// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/scholarqa-engine/internal/config"
	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

// loadPipelineConfig merges types.Default(), the discovered/explicit
// config file, SCHOLARQA_ENGINE_* environment overrides, and the loaded
// secrets, in that order.
func loadPipelineConfig(cfgFile string) (types.PipelineConfig, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return types.PipelineConfig{}, err
	}
	return config.ApplySecrets(cfg, loadedSecrets), nil
}

// configCmd prints the fully merged configuration (defaults + file + env
// + secret presence) as YAML. It is a diagnostic, read-only subcommand
// with no flags of its own.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective pipeline configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		// APIKeysConfig is tagged yaml:"-" throughout, so credential
		// material never reaches this marshal regardless of what secrets
		// were loaded.
		out, err := yaml.Marshal(loadedConfig)
		if err != nil {
			return fmt.Errorf("marshaling effective config: %w", err)
		}
		fmt.Fprintln(os.Stdout, string(out))

		keys := loadedConfig.APIKeys
		fmt.Fprintf(os.Stderr, "api keys: anthropic=%s openai=%s s2=%s reranker=%s\n",
			presence(keys.AnthropicAPIKey), presence(keys.OpenAIAPIKey), presence(keys.S2APIKey), presence(keys.RerankerAPIKey))
		return nil
	},
}

func presence(secret string) string {
	if secret == "" {
		return "unset"
	}
	return "set"
}

func init() {
	rootCmd.AddCommand(configCmd)
}
