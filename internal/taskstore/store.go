// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package taskstore implements the Result Store: the durable record of
// every Task's status, step log and final Result. The default backend is
// an in-memory map guarded by a mutex; an optional SQLite mirror persists
// the same records across process restarts using schema-creation and
// upsert-on-conflict writes.
package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	scholarerrors "github.com/pdiddy/scholarqa-engine/internal/errors"
	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

// validTransitions enumerates the Task state machine. A status not present
// as a key, or a target not listed for the current status, is rejected
// with scholarerrors.ErrInvalidTransition. Setting a Task to its current
// status is always accepted.
var validTransitions = map[types.TaskStatus][]types.TaskStatus{
	types.TaskQueued:     {types.TaskInProgress, types.TaskCancelled},
	types.TaskInProgress: {types.TaskComplete, types.TaskFailed, types.TaskCancelled},
}

func canTransition(from, to types.TaskStatus) bool {
	if from == to {
		return true
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Store is an in-memory, mutex-guarded Task record keyed by task id, with
// an optional SQLite mirror for durability across restarts. Construct it
// with New or NewWithSQLite (the latter enables the durable mirror); the
// zero value has no task map and is not usable.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*types.Task

	db  *sql.DB
	ttl time.Duration

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// New returns an in-memory-only Store. ttl <= 0 disables the TTL sweeper.
func New(ttl time.Duration) *Store {
	s := &Store{tasks: make(map[string]*types.Task), ttl: ttl}
	if ttl > 0 {
		s.startSweeper()
	}
	return s
}

// NewWithSQLite returns a Store that mirrors every write to a SQLite
// database at dbPath, in addition to serving reads from the in-memory map.
// The database is opened in WAL mode.
func NewWithSQLite(ttl time.Duration, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening task store database: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating task store schema: %w", err)
	}

	s := &Store{tasks: make(map[string]*types.Task), db: db, ttl: ttl}
	if err := s.loadFromSQLite(); err != nil {
		db.Close()
		return nil, err
	}
	if ttl > 0 {
		s.startSweeper()
	}
	return s, nil
}

func (s *Store) loadFromSQLite() error {
	rows, err := s.db.Query(`SELECT data FROM tasks`)
	if err != nil {
		return fmt.Errorf("loading task store rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return fmt.Errorf("scanning task store row: %w", err)
		}
		var task types.Task
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			continue
		}
		s.tasks[task.ID] = &task
	}
	return rows.Err()
}

func (s *Store) persist(task *types.Task) {
	if s.db == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		return
	}
	s.db.Exec(`INSERT INTO tasks (id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		task.ID, string(data), task.UpdatedAt.Format(time.RFC3339Nano))
}

// Close stops the TTL sweeper and, if present, the SQLite connection.
func (s *Store) Close() error {
	s.sweepOnce.Do(func() {
		if s.stopSweep != nil {
			close(s.stopSweep)
		}
	})
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put inserts a new queued Task. It overwrites any existing record with
// the same id unconditionally; callers are expected to generate unique ids.
func (s *Store) Put(ctx context.Context, task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *task
	s.tasks[task.ID] = &clone
	s.persist(&clone)
	return nil
}

// Get returns a copy of the Task record for id, or scholarerrors.ErrTaskNotFound.
func (s *Store) Get(ctx context.Context, id string) (types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return types.Task{}, scholarerrors.ErrTaskNotFound
	}
	return *task, nil
}

// UpdateStatus transitions a Task's status, validating against the Task
// state machine. detail is recorded on terminal transitions (e.g. a
// failure reason or cancellation note).
func (s *Store) UpdateStatus(ctx context.Context, id string, status types.TaskStatus, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return scholarerrors.ErrTaskNotFound
	}
	if !canTransition(task.Status, status) {
		return fmt.Errorf("%w: %s -> %s", scholarerrors.ErrInvalidTransition, task.Status, status)
	}

	task.Status = status
	if detail != "" {
		task.Detail = detail
	}
	task.UpdatedAt = time.Now()
	s.persist(task)
	return nil
}

// AppendStep appends a new open Step to a Task's progress log.
func (s *Store) AppendStep(ctx context.Context, id string, step types.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return scholarerrors.ErrTaskNotFound
	}
	task.Steps = append(task.Steps, step)
	task.UpdatedAt = time.Now()
	s.persist(task)
	return nil
}

// CloseStep closes the most recently opened Step with the given
// description, recording endTimestamp and an optional error message.
func (s *Store) CloseStep(ctx context.Context, id, description string, endTimestamp float64, stepErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return scholarerrors.ErrTaskNotFound
	}
	for i := len(task.Steps) - 1; i >= 0; i-- {
		if task.Steps[i].Description == description && task.Steps[i].Open() {
			end := endTimestamp
			task.Steps[i].EndTimestamp = &end
			task.Steps[i].Error = stepErr
			break
		}
	}
	task.UpdatedAt = time.Now()
	s.persist(task)
	return nil
}

// CloseAllOpenSteps closes every currently-open Step on a Task with the
// given error message, used when a Task reaches a terminal state (failure,
// cancellation, timeout) while one or more steps are still in flight.
func (s *Store) CloseAllOpenSteps(ctx context.Context, id, stepErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return scholarerrors.ErrTaskNotFound
	}
	end := float64(time.Now().UnixNano()) / 1e9
	for i := range task.Steps {
		if task.Steps[i].Open() {
			e := end
			task.Steps[i].EndTimestamp = &e
			task.Steps[i].Error = stepErr
		}
	}
	task.UpdatedAt = time.Now()
	s.persist(task)
	return nil
}

// SetResult attaches the final Result to a Task. It does not itself
// transition status; callers call UpdateStatus separately.
func (s *Store) SetResult(ctx context.Context, id string, result types.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return scholarerrors.ErrTaskNotFound
	}
	task.Result = &result
	task.UpdatedAt = time.Now()
	s.persist(task)
	return nil
}

func (s *Store) startSweeper() {
	s.stopSweep = make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.ttl / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopSweep:
				return
			}
		}
	}()
}

func (s *Store) sweep() {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, task := range s.tasks {
		terminal := task.Status == types.TaskComplete || task.Status == types.TaskFailed || task.Status == types.TaskCancelled
		if terminal && task.UpdatedAt.Before(cutoff) {
			delete(s.tasks, id)
			if s.db != nil {
				s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
			}
		}
	}
}
