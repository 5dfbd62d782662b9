// Package job tracks capture jobs through their lifecycle and keeps every
// state change mirrored in a durable descriptor file.
package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status is the lifecycle state of a capture job. Transitions are
// append-only: pending -> running -> (moving) -> done, with error absorbing
// failures from any non-terminal state.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusMoving  Status = "moving"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

var statusRank = map[Status]int{
	StatusPending: 0,
	StatusRunning: 1,
	StatusMoving:  2,
	StatusDone:    3,
}

// DescriptorName is the descriptor filename inside a job's spool directory.
const DescriptorName = "job.json"

// ErrNotFound is returned when a job exists neither in memory nor on disk.
var ErrNotFound = errors.New("job not found")

// Error wraps a failure with the identifier of the job it belongs to. It is
// the only error shape that crosses the pool boundary.
type Error struct {
	JobID string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("job %s: %v", e.JobID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Record is the serializable job descriptor. It is the wire format for the
// on-disk mirror, the completion callback and the status API.
type Record struct {
	ID          string     `json:"job_id"`
	CameraID    int        `json:"camera_id"`
	URI         string     `json:"uri"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	Filename    string     `json:"filename"`
	SpoolDir    string     `json:"spool_dir"`
	StorageDir  string     `json:"storage_dir"`
	CallbackURI string     `json:"callback_uri,omitempty"`
	Status      Status     `json:"status"`
	Progress    float64    `json:"progress"`
	RequestedAt time.Time  `json:"requested_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	DoneAt      *time.Time `json:"done_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Previews    []string   `json:"previews,omitempty"`
}

// Duration is the authoritative capture duration, derived from the adjusted
// window rather than anything the caller originally asked for.
func (r Record) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// ArtifactPath is where the capture subprocess writes the artifact.
func (r Record) ArtifactPath() string {
	return filepath.Join(r.SpoolDir, r.Filename)
}

// FinalPath is where the artifact rests once the job is done.
func (r Record) FinalPath() string {
	return filepath.Join(r.StorageDir, r.Filename)
}

// Job is a live record plus the synchronization and persistence around it.
// Field mutation is reserved to the single worker executing the job; the
// mutex exists so that readers (status API, manager) can take consistent
// snapshots while the worker is writing.
type Job struct {
	mu  sync.Mutex
	rec Record
}

// New creates a pending job record. The descriptor is not written until the
// caller persists it (normally right after creating the spool directory).
func New(rec Record) *Job {
	rec.Status = StatusPending
	rec.Progress = 0
	rec.RequestedAt = time.Now().UTC()
	return &Job{rec: rec}
}

// ID returns the job identifier. Immutable after creation.
func (j *Job) ID() string { return j.rec.ID }

// Snapshot returns a consistent copy of the current record.
func (j *Job) Snapshot() Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec
}

// descriptorPath must be called with j.mu held or on an immutable field.
func (j *Job) descriptorPath() string {
	return filepath.Join(j.rec.SpoolDir, DescriptorName)
}

// Persist writes the descriptor to the spool directory. The write goes
// through a temp file and rename so a crash never leaves a torn descriptor.
func (j *Job) Persist() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return writeRecord(j.descriptorPath(), j.rec)
}

func writeRecord(path string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace descriptor: %w", err)
	}
	return nil
}

// transition enforces append-only status ordering and flushes the
// descriptor. Caller must hold j.mu.
func (j *Job) transition(next Status) error {
	if j.rec.Status == StatusError {
		return fmt.Errorf("job %s already failed", j.rec.ID)
	}
	if next == StatusError {
		if j.rec.Status == StatusDone {
			return fmt.Errorf("job %s already done", j.rec.ID)
		}
		j.rec.Status = StatusError
		return writeRecord(j.descriptorPath(), j.rec)
	}
	if statusRank[next] <= statusRank[j.rec.Status] {
		return fmt.Errorf("job %s: cannot go from %s to %s", j.rec.ID, j.rec.Status, next)
	}
	j.rec.Status = next
	return writeRecord(j.descriptorPath(), j.rec)
}

// MarkRunning records the start of the capture subprocess.
func (j *Job) MarkRunning() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now().UTC()
	j.rec.StartedAt = &now
	return j.transition(StatusRunning)
}

// MarkMoving records the start of artifact relocation. Progress is pinned to
// 100 from here on.
func (j *Job) MarkMoving() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rec.Progress = 100
	return j.transition(StatusMoving)
}

// MarkDone finalizes a successful job.
func (j *Job) MarkDone() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now().UTC()
	j.rec.Progress = 100
	j.rec.DoneAt = &now
	return j.transition(StatusDone)
}

// MarkError finalizes a failed job with the underlying cause.
func (j *Job) MarkError(cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now().UTC()
	j.rec.DoneAt = &now
	j.rec.Error = cause.Error()
	return j.transition(StatusError)
}

// SetProgress records a parsed progress update. Progress is monotonically
// non-decreasing within a run; stale updates are dropped.
func (j *Job) SetProgress(pct float64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if pct <= j.rec.Progress {
		return nil
	}
	j.rec.Progress = pct
	return writeRecord(j.descriptorPath(), j.rec)
}

// SetPreviews records the poster frames rendered from the finished artifact.
func (j *Job) SetPreviews(paths []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rec.Previews = paths
	return writeRecord(j.descriptorPath(), j.rec)
}

// NoteError appends a best-effort failure note (callback delivery, preview
// rendering) to the record without touching its status.
func (j *Job) NoteError(msg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.rec.Error == "" {
		j.rec.Error = msg
	} else {
		j.rec.Error = j.rec.Error + "; " + msg
	}
	return writeRecord(j.descriptorPath(), j.rec)
}

// Load reads a persisted descriptor back from disk. It is the only recovery
// path for jobs whose in-memory record is gone.
func Load(spoolRoot, id string) (Record, error) {
	path := filepath.Join(spoolRoot, id, DescriptorName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("read descriptor: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode descriptor %s: %w", path, err)
	}
	return rec, nil
}
