package progress

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-ingest/core"
)

// State is the volatile per-task progress blob. It is written by the worker
// that owns the task and read by progress readers.
type State struct {
	TaskID        string         `json:"task_id"`
	UploadJobID   string         `json:"upload_job_id"`
	State         core.TaskState `json:"state"`
	Progress      float64        `json:"progress"`
	ProcessedRows int            `json:"processed_rows"`
	TotalRows     *int           `json:"total_rows,omitempty"`
	FailedRows    int            `json:"failed_rows"`
	Message       string         `json:"message,omitempty"`
	Error         string         `json:"error,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TaskStateBackend stores State blobs keyed by task id. Get reports false
// when no blob exists.
type TaskStateBackend interface {
	Get(ctx context.Context, taskID string) (State, bool, error)
	Set(ctx context.Context, state State) error
}

type memoryEntry struct {
	state     State
	expiresAt time.Time
}

// MemoryBackend keeps blobs in process. Entries expire after TTL when set.
type MemoryBackend struct {
	TTL time.Duration
	Now func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{
		TTL:     ttl,
		entries: map[string]memoryEntry{},
	}
}

func (b *MemoryBackend) Get(_ context.Context, taskID string) (State, bool, error) {
	if b == nil {
		return State{}, false, nil
	}
	taskID = strings.TrimSpace(taskID)
	b.mu.RLock()
	entry, ok := b.entries[taskID]
	b.mu.RUnlock()
	if !ok {
		return State{}, false, nil
	}
	if !entry.expiresAt.IsZero() && b.now().After(entry.expiresAt) {
		b.mu.Lock()
		delete(b.entries, taskID)
		b.mu.Unlock()
		return State{}, false, nil
	}
	return cloneState(entry.state), true, nil
}

func (b *MemoryBackend) Set(_ context.Context, state State) error {
	if b == nil {
		return nil
	}
	state.TaskID = strings.TrimSpace(state.TaskID)
	if state.TaskID == "" {
		return nil
	}
	entry := memoryEntry{state: cloneState(state)}
	if b.TTL > 0 {
		entry.expiresAt = b.now().Add(b.TTL)
	}
	b.mu.Lock()
	if b.entries == nil {
		b.entries = map[string]memoryEntry{}
	}
	b.entries[state.TaskID] = entry
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func cloneState(state State) State {
	if state.TotalRows != nil {
		total := *state.TotalRows
		state.TotalRows = &total
	}
	return state
}

var _ TaskStateBackend = (*MemoryBackend)(nil)
