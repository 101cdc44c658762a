package runtrace

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stage is one step of a journey generation run.
type Stage string

const (
	StageFetched   Stage = "fetched"
	StageUpserted  Stage = "upserted"
	StageGenerated Stage = "generated"
	StagePersisted Stage = "persisted"

	StageFailedPrefix = "failed_"
)

// StageFailed names the failure counter for stage.
func StageFailed(stage Stage) Stage {
	return Stage(StageFailedPrefix + string(stage))
}

// RunTrace records what one generation run did. TraceID is stable for a
// stream/person pair so repeated runs for the same person group together;
// RunID is unique per run.
type RunTrace struct {
	Stream  string
	Person  string
	TraceID string
	RunID   string
	Started time.Time

	mu       sync.Mutex
	counters map[Stage]int64
}

func New(stream, person string) *RunTrace {
	return &RunTrace{
		Stream:   stream,
		Person:   person,
		TraceID:  computeTraceID(stream, person),
		RunID:    uuid.NewString(),
		Started:  time.Now(),
		counters: make(map[Stage]int64),
	}
}

// Add increments stage by n and returns the new value.
func (t *RunTrace) Add(stage Stage, n int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters[stage] += n
	return t.counters[stage]
}

func (t *RunTrace) Inc(stage Stage) int64 { return t.Add(stage, 1) }

func (t *RunTrace) Count(stage Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[stage]
}

// LogTrace emits the trace as one structured record.
func (t *RunTrace) LogTrace(logger *slog.Logger, msg string) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info(msg,
		"trace_id", t.TraceID,
		"run_id", t.RunID,
		"stream", t.Stream,
		"person", t.Person,
		"elapsed_ms", time.Since(t.Started).Milliseconds(),
		"counters", t.Snapshot(),
	)
}

func (t *RunTrace) Snapshot() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		out[stage] = count
	}
	return out
}

func computeTraceID(stream, person string) string {
	digest := sha256.Sum256([]byte(stream + "\x1f" + person))
	return hex.EncodeToString(digest[:])
}
