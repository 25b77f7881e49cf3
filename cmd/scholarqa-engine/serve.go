// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	scholarerrors "github.com/pdiddy/scholarqa-engine/internal/errors"
)

var (
	serveAddr string
	serveDB   string
)

// serveCmd exposes the Task Submission API: submit, poll, feedback/reaction
// and cancel, the last so a task's cancellation-mid-flight behavior is
// reachable from outside the process rather than only from an in-process
// caller. Routing uses the stdlib method-pattern ServeMux (Go 1.22+).
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Task Submission API",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine(loadedConfig, serveDB)
		if err != nil {
			return err
		}
		defer eng.Close()

		mux := http.NewServeMux()
		api := &taskAPI{eng: eng}
		mux.HandleFunc("POST /tasks", api.submit)
		mux.HandleFunc("GET /tasks/{id}", api.poll)
		mux.HandleFunc("POST /tasks/{id}/feedback", api.feedback)
		mux.HandleFunc("DELETE /tasks/{id}", api.cancel)

		srv := &http.Server{Addr: serveAddr, Handler: mux}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		eng.Logger.Info("serving task submission api", "addr", serveAddr)
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
			eng.Logger.Info("shutting down")
			return srv.Shutdown(context.Background())
		}
		return nil
	},
}

type taskAPI struct {
	eng *engine
}

// submitRequest matches the ingress wire shape exactly. OptIn and
// FeedbackToggle are decoded but neither validated nor recorded; no stage
// conditions its behavior on them.
type submitRequest struct {
	Query          string `json:"query"`
	UserID         string `json:"user_id"`
	OptIn          bool   `json:"opt_in"`
	FeedbackToggle bool   `json:"feedback_toggle"`
}

func (a *taskAPI) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}

	task, err := a.eng.Supervisor.Submit(r.Context(), req.Query, req.UserID, a.eng.Config)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (a *taskAPI) poll(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, err := a.eng.Supervisor.Poll(r.Context(), id)
	if err != nil {
		if errors.Is(err, scholarerrors.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *taskAPI) cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.eng.Supervisor.Cancel(id); err != nil {
		if errors.Is(err, scholarerrors.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type feedbackRequest struct {
	UserID        string `json:"user_id"`
	Feedback      string `json:"feedback,omitempty"`
	Reaction      *int   `json:"reaction,omitempty"`
	SectionHandle string `json:"section_handle,omitempty"`
}

// feedback validates that the referenced task exists and acknowledges the
// submission; it logs the feedback but the Task Supervisor's state machine
// and Result Store carry no feedback fields, so nothing is persisted.
func (a *taskAPI) feedback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := a.eng.Supervisor.Poll(r.Context(), id); err != nil {
		if errors.Is(err, scholarerrors.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.eng.Logger.Info("feedback received", "task_id", id, "user_id", req.UserID, "section_handle", req.SectionHandle)
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address for the task submission api")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "optional SQLite path for a durable task store (default: in-memory only)")
	rootCmd.AddCommand(serveCmd)
}
