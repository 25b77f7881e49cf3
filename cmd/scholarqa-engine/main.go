// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the scholarqa-engine CLI.
// See docs/ARCHITECTURE for the Task Supervisor pipeline the command tree
// (ask, poll, feedback, serve, config) drives.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/scholarqa-engine/internal/secrets"
	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// loadedConfig is the merged PipelineConfig for this invocation, built in
// PersistentPreRunE before any subcommand runs.
var loadedConfig types.PipelineConfig

// rootCmd is the base command for the scholarqa-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "scholarqa-engine",
	Short: "Multi-stage scientific literature question-answering orchestrator",
	Long: `scholarqa-engine decomposes a research question, retrieves and reranks
supporting passages, extracts per-paper evidence, clusters it into an outline,
and synthesizes an ordered, cited report -- optionally with comparison tables.

ask submits a query and waits for the Task to reach a terminal state. serve
exposes the same Task Supervisor over the Task Submission API. poll and
feedback are thin HTTP clients against a running serve instance.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}

		cfgFile, _ := cmd.Flags().GetString("config")
		cfg, err := loadPipelineConfig(cfgFile)
		if err != nil {
			return err
		}
		loadedConfig = cfg
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfigPath)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./scholarqa-engine.yaml or ~/.config/scholarqa-engine/scholarqa-engine.yaml)")
}

// initConfigPath runs as a cobra.OnInitialize hook; the actual merge
// happens in loadPipelineConfig via internal/config.Load, which layers
// types.Default(), the discovered file, and SCHOLARQA_ENGINE_* env vars
// in that order.
func initConfigPath() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "scholarqa-engine"))
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
