package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-ingest/core"
)

const (
	jobNotFoundMessage   = "Upload job not found"
	streamExpiredMessage = "Progress stream exceeded maximum duration"
)

// Emitter receives stream frames in order. Returning an error stops the stream.
type Emitter func(core.StreamMessage) error

// Streamer polls a ProgressReader and emits snapshots until the job is
// terminal, the context ends, or MaxDuration elapses.
type Streamer struct {
	Reader      core.ProgressReader
	Interval    time.Duration
	MaxDuration time.Duration
	Observer    *core.Observer
}

func NewStreamer(reader core.ProgressReader, cfg core.StreamerConfig, observer *core.Observer) (*Streamer, error) {
	if reader == nil {
		return nil, fmt.Errorf("progress: progress reader is required")
	}
	return &Streamer{
		Reader:      reader,
		Interval:    core.ClampStreamInterval(cfg.Interval),
		MaxDuration: cfg.MaxDuration,
		Observer:    observer,
	}, nil
}

// Stream emits the first snapshot unconditionally and later snapshots only
// when progress moves. A completed job always ends with a 100 snapshot, a
// failed job with its failure snapshot, then the done marker. An unknown
// task yields a single error frame.
func (s *Streamer) Stream(ctx context.Context, taskID string, emit Emitter) error {
	if s == nil || s.Reader == nil {
		return fmt.Errorf("progress: streamer is not configured")
	}
	if emit == nil {
		return fmt.Errorf("progress: emitter is required")
	}
	taskID = strings.TrimSpace(taskID)
	interval := core.ClampStreamInterval(s.Interval)

	var deadline <-chan time.Time
	if s.MaxDuration > 0 {
		timer := time.NewTimer(s.MaxDuration)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last        *core.ProgressSnapshot
		emitted100  bool
		pollStarted = time.Now()
	)
	for {
		snapshot, err := s.Reader.Read(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, core.ErrJobNotFound) {
				return emit(core.StreamMessage{Err: jobNotFoundMessage})
			}
			s.Observer.Warn(ctx, "progress stream read failed", map[string]any{
				"task_id": taskID,
				"error":   err.Error(),
			})
			if emitErr := emit(core.StreamMessage{Err: core.MapError(err).Message}); emitErr != nil {
				return emitErr
			}
			return err
		}

		if last == nil || snapshot.Progress != last.Progress {
			if err := s.emitSnapshot(emit, snapshot); err != nil {
				return err
			}
			emitted100 = emitted100 || snapshot.Progress >= 100
			last = &snapshot
		}

		if snapshot.Status.Terminal() {
			switch snapshot.Status {
			case core.JobStatusCompleted:
				if !emitted100 {
					final := snapshot
					final.Progress = 100
					if err := s.emitSnapshot(emit, final); err != nil {
						return err
					}
				}
			case core.JobStatusFailed:
				if last.Status != core.JobStatusFailed {
					if err := s.emitSnapshot(emit, snapshot); err != nil {
						return err
					}
				}
			}
			s.Observer.Debug(ctx, "progress stream finished", map[string]any{
				"task_id":     taskID,
				"status":      string(snapshot.Status),
				"duration_ms": time.Since(pollStarted).Milliseconds(),
			})
			return emit(core.StreamMessage{Done: true})
		}

		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return emit(core.StreamMessage{Err: streamExpiredMessage})
		case <-ticker.C:
		}
	}
}

func (s *Streamer) emitSnapshot(emit Emitter, snapshot core.ProgressSnapshot) error {
	copied := snapshot
	if snapshot.TotalRows != nil {
		total := *snapshot.TotalRows
		copied.TotalRows = &total
	}
	return emit(core.StreamMessage{Snapshot: &copied})
}
