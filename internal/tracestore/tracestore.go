// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package tracestore implements the Event Trace Store: an append-only
// per-task log of stage records, written as JSON Lines. The local backend
// writes to <trace_dir>/<task_id>.json; the object-store backend PUTs the
// same key layout to S3-compatible storage via aws/aws-sdk-go.
package tracestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/pdiddy/scholarqa-engine/pkg/types"
)

// Record is one stage's trace entry.
type Record struct {
	Stage   string      `json:"stage"`
	Start   time.Time   `json:"start"`
	End     time.Time   `json:"end"`
	CostUSD float64     `json:"cost_usd,omitempty"`
	Input   interface{} `json:"input,omitempty"`
	Output  interface{} `json:"output,omitempty"`
	Warning string      `json:"warning,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Backend persists one Record for one task. Implementations must be safe
// for concurrent use across different task ids; ordering within a single
// task id is the caller's (Writer's) responsibility.
type Backend interface {
	Append(ctx context.Context, taskID string, record Record) error
}

// NewBackend builds the configured Backend from a TraceConfig.
func NewBackend(cfg types.TraceConfig) (Backend, error) {
	switch cfg.Mode {
	case types.TraceObjectStore:
		bucket, prefix := cfg.Location, ""
		if i := strings.IndexByte(cfg.Location, '/'); i >= 0 {
			bucket, prefix = cfg.Location[:i], cfg.Location[i+1:]
		}
		sess, err := session.NewSession()
		if err != nil {
			return nil, fmt.Errorf("creating object store session: %w", err)
		}
		return NewObjectStoreBackend(sess, bucket, prefix), nil
	default:
		return &LocalBackend{Dir: cfg.Location}, nil
	}
}

// LocalBackend appends each Record as one JSON line to
// <Dir>/<task_id>.json.
type LocalBackend struct {
	Dir string
}

func (b *LocalBackend) Append(ctx context.Context, taskID string, record Record) error {
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return fmt.Errorf("creating trace directory: %w", err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling trace record: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(b.Dir, taskID+".json"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening trace file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing trace record: %w", err)
	}
	return nil
}

// ObjectStoreBackend PUTs the full accumulated trace blob for a task on
// every Append, matching the original's whole-blob push rather than a
// true append (S3 objects cannot be appended to in place).
type ObjectStoreBackend struct {
	Uploader *s3manager.Uploader
	Bucket   string
	Prefix   string

	mu      sync.Mutex
	buffers map[string][]byte
}

// NewObjectStoreBackend constructs an ObjectStoreBackend over an AWS
// session.
func NewObjectStoreBackend(sess *session.Session, bucket, prefix string) *ObjectStoreBackend {
	return &ObjectStoreBackend{
		Uploader: s3manager.NewUploader(sess),
		Bucket:   bucket,
		Prefix:   prefix,
		buffers:  make(map[string][]byte),
	}
}

func (b *ObjectStoreBackend) Append(ctx context.Context, taskID string, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling trace record: %w", err)
	}

	b.mu.Lock()
	b.buffers[taskID] = append(b.buffers[taskID], append(data, '\n')...)
	blob := append([]byte(nil), b.buffers[taskID]...)
	b.mu.Unlock()

	key := path.Join(b.Prefix, taskID+".json")
	_, err = b.Uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(blob),
	})
	if err != nil {
		return fmt.Errorf("uploading trace blob: %w", err)
	}
	return nil
}

// Writer serializes Record writes for a single task through one
// goroutine, so records for that task remain strictly ordered even
// though Append itself never blocks the caller. A full buffer drops the
// record rather than block the pipeline; a trace failure must not fail
// the Task.
type Writer struct {
	taskID  string
	backend Backend
	ch      chan Record
	done    chan struct{}
}

// NewWriter starts a Writer for taskID backed by backend.
func NewWriter(taskID string, backend Backend) *Writer {
	w := &Writer{taskID: taskID, backend: backend, ch: make(chan Record, 64), done: make(chan struct{})}
	go w.run()
	return w
}

func (w *Writer) run() {
	for r := range w.ch {
		if err := w.backend.Append(context.Background(), w.taskID, r); err != nil {
			slog.Warn("trace write failed", "task_id", w.taskID, "stage", r.Stage, "error", err)
		}
	}
	close(w.done)
}

// Append enqueues a Record without blocking the caller.
func (w *Writer) Append(record Record) {
	select {
	case w.ch <- record:
	default:
		slog.Warn("trace buffer full, dropping record", "task_id", w.taskID, "stage", record.Stage)
	}
}

// Close drains the pending queue and stops the writer's goroutine.
func (w *Writer) Close() {
	close(w.ch)
	<-w.done
}
