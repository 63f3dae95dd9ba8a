package runlog

import (
	"fmt"
	"sort"
	"time"
)

var (
	runsBucket   = []byte("runs")
	stagesBucket = []byte("stages")
	shardsBucket = []byte("shards")
)

// RunRecord is the manifest entry for one engine run.
type RunRecord struct {
	ID          string    `json:"id"`
	InputPath   string    `json:"input_path"`
	OutputPath  string    `json:"output_path"`
	Reduction   string    `json:"reduction"`
	Derivation  string    `json:"derivation"`
	ShardCount  int       `json:"shard_count"`
	WorkerCount int       `json:"worker_count"`
	Stage       string    `json:"stage"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	Records     int64     `json:"records"`
	Rows        int64     `json:"rows"`
	ParseSkips  int64     `json:"parse_skips"`
	Orphans     int64     `json:"orphans"`
	LookupKeys  int       `json:"lookup_keys"`
}

// StageRecord is one state-machine transition within a run.
type StageRecord struct {
	Stage     string    `json:"stage"`
	EnteredAt time.Time `json:"entered_at"`
}

// ShardRecord describes one range-local output shard file.
type ShardRecord struct {
	Index   int    `json:"index"`
	Path    string `json:"path"`
	Bytes   int64  `json:"bytes"`
	Records int64  `json:"records"`
}

// Recorder receives run lifecycle events. The orchestrator drives it; a
// nil-safe NopRecorder stands in when no manifest is configured.
type Recorder interface {
	SaveRun(run *RunRecord) error
	AppendStage(runID string, stage string, at time.Time) error
	SaveShards(runID string, shards []ShardRecord) error
}

// Log persists manifest records through a Backend.
type Log struct {
	backend Backend
}

// Open opens a bbolt-backed manifest at dbPath.
func Open(dbPath string) (*Log, error) {
	backend, err := NewBboltBackend(dbPath)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(backend)
}

// NewWithBackend wraps an existing backend, creating the manifest buckets.
func NewWithBackend(backend Backend) (*Log, error) {
	l := &Log{backend: backend}
	for _, bucket := range [][]byte{runsBucket, stagesBucket, shardsBucket} {
		if err := backend.CreateBucket(bucket); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return l, nil
}

// SaveRun persists a run record, overwriting any previous snapshot.
func (l *Log) SaveRun(run *RunRecord) error {
	data, err := encodeJSON(run)
	if err != nil {
		return err
	}
	return l.backend.Put(runsBucket, []byte(run.ID), data)
}

// LoadRuns returns all recorded runs, oldest first.
func (l *Log) LoadRuns() ([]*RunRecord, error) {
	var runs []*RunRecord
	err := l.backend.ForEach(runsBucket, func(k, v []byte) error {
		var run RunRecord
		if err := decodeJSON(v, &run); err != nil {
			// Skip corrupted entries rather than losing the listing.
			return nil
		}
		runs = append(runs, &run)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs, nil
}

// LoadRun returns one run by ID, or nil when absent.
func (l *Log) LoadRun(runID string) (*RunRecord, error) {
	data, err := l.backend.Get(runsBucket, []byte(runID))
	if err != nil || data == nil {
		return nil, err
	}
	var run RunRecord
	if err := decodeJSON(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// DeleteRun removes a run and its stage/shard records.
func (l *Log) DeleteRun(runID string) error {
	if err := l.backend.Delete(runsBucket, []byte(runID)); err != nil {
		return err
	}
	if err := l.backend.Delete(stagesBucket, []byte(runID)); err != nil {
		return err
	}
	return l.backend.Delete(shardsBucket, []byte(runID))
}

// AppendStage records a state-machine transition for the run.
func (l *Log) AppendStage(runID string, stage string, at time.Time) error {
	stages, err := l.LoadStages(runID)
	if err != nil {
		return err
	}
	stages = append(stages, StageRecord{Stage: stage, EnteredAt: at})
	data, err := encodeJSON(stages)
	if err != nil {
		return err
	}
	return l.backend.Put(stagesBucket, []byte(runID), data)
}

// LoadStages returns the run's transitions in order.
func (l *Log) LoadStages(runID string) ([]StageRecord, error) {
	data, err := l.backend.Get(stagesBucket, []byte(runID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var stages []StageRecord
	if err := decodeJSON(data, &stages); err != nil {
		return nil, err
	}
	return stages, nil
}

// SaveShards records the run's shard files.
func (l *Log) SaveShards(runID string, shards []ShardRecord) error {
	data, err := encodeJSON(shards)
	if err != nil {
		return err
	}
	return l.backend.Put(shardsBucket, []byte(runID), data)
}

// LoadShards returns the run's shard records.
func (l *Log) LoadShards(runID string) ([]ShardRecord, error) {
	data, err := l.backend.Get(shardsBucket, []byte(runID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var shards []ShardRecord
	if err := decodeJSON(data, &shards); err != nil {
		return nil, err
	}
	return shards, nil
}

// Close closes the underlying backend.
func (l *Log) Close() error { return l.backend.Close() }

// NopRecorder discards all events.
type NopRecorder struct{}

func (NopRecorder) SaveRun(*RunRecord) error                    { return nil }
func (NopRecorder) AppendStage(string, string, time.Time) error { return nil }
func (NopRecorder) SaveShards(string, []ShardRecord) error      { return nil }
