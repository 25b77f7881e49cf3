// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the shared data structures for the scholarqa-engine
// pipeline: tasks, queries, passages, papers, outlines, sections, tables and
// results. Behavior and invariants live in the owning internal packages; the
// structs here are plain data.
package types

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskInProgress TaskStatus = "in_progress"
	TaskComplete   TaskStatus = "complete"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Step is one entry in a Task's append-only progress log.
type Step struct {
	Description        string     `json:"description" yaml:"description"`
	StartTimestamp      float64    `json:"start_timestamp" yaml:"start_timestamp"`
	EstimatedTimestamp  float64    `json:"estimated_timestamp,omitempty" yaml:"estimated_timestamp,omitempty"`
	EndTimestamp        *float64   `json:"end_timestamp,omitempty" yaml:"end_timestamp,omitempty"`
	Error               string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Open reports whether the Step has not yet been closed.
func (s Step) Open() bool {
	return s.EndTimestamp == nil
}

// Task is one end-to-end question-answering job from submission to a
// terminal state. Fields other than Status and Steps are set once at
// creation or on terminal transition; Status and Steps mutate over the
// Task's lifetime and must only be touched while holding the owning
// store's lock.
type Task struct {
	ID          string     `json:"task_id" yaml:"task_id"`
	UserID      string     `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Query       string     `json:"query" yaml:"query"`
	Status      TaskStatus `json:"task_status" yaml:"task_status"`
	Steps       []Step     `json:"steps" yaml:"steps"`
	Result      *Result    `json:"task_result" yaml:"task_result"`
	Detail      string     `json:"detail,omitempty" yaml:"detail,omitempty"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at"`
	Config      PipelineConfig `json:"-" yaml:"-"`
}

// EstimatedTime renders a coarse human-readable estimate for the task state
// document. It is a presentation convenience, not a scheduling promise.
func (t Task) EstimatedTime() string {
	switch t.Status {
	case TaskComplete, TaskFailed, TaskCancelled:
		return "0 seconds"
	default:
		remaining := 0.0
		for _, s := range t.Steps {
			if s.Open() {
				remaining += s.EstimatedTimestamp - s.StartTimestamp
			}
		}
		if remaining <= 0 {
			return "a few seconds"
		}
		return time.Duration(remaining * float64(time.Second)).Round(time.Second).String()
	}
}
