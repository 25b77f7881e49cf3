// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	clientAddr    string
	pollTaskID    string
	fbTaskID      string
	fbUserID      string
	fbText        string
	fbReaction    int
	fbHasReaction bool
	fbSection     string
)

// pollCmd is a thin HTTP client against a running serve instance's Poll
// endpoint, for operators who submitted a task via a different process
// (e.g. another ask invocation, or a browser client) and only have the
// task id.
var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll a running serve instance for a task's current state",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pollTaskID == "" {
			return fmt.Errorf("--task-id is required")
		}
		resp, err := http.Get(fmt.Sprintf("%s/tasks/%s", clientAddr, pollTaskID))
		if err != nil {
			return fmt.Errorf("polling %s: %w", clientAddr, err)
		}
		defer resp.Body.Close()
		return printResponse(resp)
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Send feedback or a reaction for a task to a running serve instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		if fbTaskID == "" {
			return fmt.Errorf("--task-id is required")
		}
		payload := map[string]any{"user_id": fbUserID}
		if fbText != "" {
			payload["feedback"] = fbText
		}
		if fbHasReaction {
			payload["reaction"] = fbReaction
		}
		if fbSection != "" {
			payload["section_handle"] = fbSection
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling feedback: %w", err)
		}

		resp, err := http.Post(fmt.Sprintf("%s/tasks/%s/feedback", clientAddr, fbTaskID), "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("posting feedback to %s: %w", clientAddr, err)
		}
		defer resp.Body.Close()
		return printResponse(resp)
	},
}

func printResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		fmt.Fprintln(os.Stdout, pretty.String())
	} else {
		fmt.Fprintln(os.Stdout, string(body))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func init() {
	pollCmd.Flags().StringVar(&clientAddr, "addr", "http://localhost:8080", "base URL of a running serve instance")
	pollCmd.Flags().StringVar(&pollTaskID, "task-id", "", "task id to poll")
	rootCmd.AddCommand(pollCmd)

	feedbackCmd.Flags().StringVar(&clientAddr, "addr", "http://localhost:8080", "base URL of a running serve instance")
	feedbackCmd.Flags().StringVar(&fbTaskID, "task-id", "", "task id the feedback refers to")
	feedbackCmd.Flags().StringVar(&fbUserID, "user-id", "cli", "opaque user id submitting the feedback")
	feedbackCmd.Flags().StringVar(&fbText, "text", "", "free-text feedback")
	feedbackCmd.Flags().IntVar(&fbReaction, "reaction", 0, "reaction: 1 or -1")
	feedbackCmd.Flags().BoolVar(&fbHasReaction, "has-reaction", false, "set to send --reaction (distinguishes 0 from unset)")
	feedbackCmd.Flags().StringVar(&fbSection, "section", "", "optional section handle the feedback refers to")
	rootCmd.AddCommand(feedbackCmd)
}
