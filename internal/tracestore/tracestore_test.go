package tracestore

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBackendAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	b := &LocalBackend{Dir: dir}

	require.NoError(t, b.Append(context.Background(), "task-1", Record{Stage: "decompose", Start: time.Now()}))
	require.NoError(t, b.Append(context.Background(), "task-1", Record{Stage: "retrieve", Start: time.Now()}))

	f, err := os.Open(filepath.Join(dir, "task-1.json"))
	require.NoError(t, err)
	defer f.Close()

	var stages []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		stages = append(stages, r.Stage)
	}
	assert.Equal(t, []string{"decompose", "retrieve"}, stages)
}

type fakeBackend struct {
	mu      chan struct{}
	records []Record
	err     error
}

func newFakeBackend() *fakeBackend { return &fakeBackend{mu: make(chan struct{}, 1)} }

func (f *fakeBackend) Append(ctx context.Context, taskID string, record Record) error {
	f.mu <- struct{}{}
	f.records = append(f.records, record)
	<-f.mu
	return f.err
}

func TestWriterPreservesAppendOrder(t *testing.T) {
	backend := newFakeBackend()
	w := NewWriter("task-1", backend)

	for i := 0; i < 20; i++ {
		w.Append(Record{Stage: string(rune('a' + i))})
	}
	w.Close()

	require.Len(t, backend.records, 20)
	for i := 0; i < 20; i++ {
		assert.Equal(t, string(rune('a'+i)), backend.records[i].Stage)
	}
}

func TestWriterDropsRecordsWhenBufferIsFull(t *testing.T) {
	blocked := make(chan struct{})
	release := make(chan struct{})
	backend := &blockingBackend{blocked: blocked, release: release}
	w := NewWriter("task-1", backend)

	w.Append(Record{Stage: "first"})
	<-blocked

	for i := 0; i < 128; i++ {
		w.Append(Record{Stage: "overflow"})
	}

	close(release)
	w.Close()
	assert.LessOrEqual(t, len(backend.records), 65)
}

type blockingBackend struct {
	blocked chan struct{}
	release chan struct{}
	once    bool
	records []Record
}

func (b *blockingBackend) Append(ctx context.Context, taskID string, record Record) error {
	if !b.once {
		b.once = true
		close(b.blocked)
		<-b.release
	}
	b.records = append(b.records, record)
	return nil
}
