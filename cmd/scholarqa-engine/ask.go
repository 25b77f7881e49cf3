// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

var (
	askQuery   string
	askUserID  string
	askDBPath  string
	pollEvery  = 500 * time.Millisecond
)

// askCmd runs one Task end to end in-process: build the full Supervisor,
// Submit, poll the local Result Store until a terminal status, and print
// the wire-stable Task state document. The pipeline itself runs on a
// goroutine, so this command submits then polls in a loop rather than
// making one synchronous call.
var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Submit a research question and wait for the answer",
	RunE: func(cmd *cobra.Command, args []string) error {
		if askQuery == "" {
			return fmt.Errorf("--query is required")
		}

		eng, err := buildEngine(loadedConfig, askDBPath)
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		task, err := eng.Supervisor.Submit(ctx, askQuery, askUserID, loadedConfig)
		if err != nil {
			return fmt.Errorf("submitting task: %w", err)
		}
		fmt.Fprintf(os.Stderr, "submitted task %s\n", task.ID)

		task, err = waitForTerminal(ctx, eng, task.ID)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(task)
	},
}

// waitForTerminal polls the Supervisor until the Task reaches a terminal
// status or ctx is done, in which case it requests cancellation and
// returns the last observed snapshot.
func waitForTerminal(ctx context.Context, eng *engine, taskID string) (types.Task, error) {
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for {
		task, err := eng.Supervisor.Poll(ctx, taskID)
		if err != nil {
			return types.Task{}, fmt.Errorf("polling task: %w", err)
		}
		switch task.Status {
		case types.TaskComplete, types.TaskFailed, types.TaskCancelled:
			return task, nil
		}

		select {
		case <-ctx.Done():
			eng.Supervisor.Cancel(taskID)
			return eng.Supervisor.Poll(context.Background(), taskID)
		case <-ticker.C:
		}
	}
}

func init() {
	askCmd.Flags().StringVar(&askQuery, "query", "", "research question to answer")
	askCmd.Flags().StringVar(&askUserID, "user-id", "cli", "opaque user id recorded on the task")
	askCmd.Flags().StringVar(&askDBPath, "db", "", "optional SQLite path for a durable task store (default: in-memory only)")
	rootCmd.AddCommand(askCmd)
}
