package job

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestJob(t *testing.T) *Job {
	t.Helper()
	spool := t.TempDir()
	j := New(Record{
		ID:         "test-job",
		CameraID:   3,
		URI:        "rtsp://dvr.local/Streaming/tracks/301",
		StartTime:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC),
		Filename:   "test-job.mp4",
		SpoolDir:   spool,
		StorageDir: spool,
	})
	if err := j.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}
	return j
}

func readDescriptor(t *testing.T, spoolDir string) Record {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(spoolDir, DescriptorName))
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("decode descriptor: %v", err)
	}
	return rec
}

func TestNewJobStartsPending(t *testing.T) {
	j := newTestJob(t)
	rec := j.Snapshot()
	if rec.Status != StatusPending {
		t.Fatalf("status: got %s, want %s", rec.Status, StatusPending)
	}
	if rec.Progress != 0 {
		t.Fatalf("progress: got %v, want 0", rec.Progress)
	}
	if rec.RequestedAt.IsZero() {
		t.Fatal("requested_at not set")
	}
}

func TestTransitionsPersistInOrder(t *testing.T) {
	j := newTestJob(t)
	spool := j.Snapshot().SpoolDir

	if err := j.MarkRunning(); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	rec := readDescriptor(t, spool)
	if rec.Status != StatusRunning || rec.StartedAt == nil {
		t.Fatalf("after running: status=%s started_at=%v", rec.Status, rec.StartedAt)
	}

	if err := j.MarkMoving(); err != nil {
		t.Fatalf("mark moving: %v", err)
	}
	rec = readDescriptor(t, spool)
	if rec.Status != StatusMoving || rec.Progress != 100 {
		t.Fatalf("after moving: status=%s progress=%v", rec.Status, rec.Progress)
	}

	if err := j.MarkDone(); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	rec = readDescriptor(t, spool)
	if rec.Status != StatusDone || rec.DoneAt == nil {
		t.Fatalf("after done: status=%s done_at=%v", rec.Status, rec.DoneAt)
	}
}

func TestTransitionsNeverRevert(t *testing.T) {
	j := newTestJob(t)
	if err := j.MarkRunning(); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := j.MarkDone(); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if err := j.MarkRunning(); err == nil {
		t.Fatal("expected error reverting done -> running")
	}
	if err := j.MarkError(errors.New("late failure")); err == nil {
		t.Fatal("expected error failing a done job")
	}
}

func TestErrorAbsorbsAnyPriorState(t *testing.T) {
	j := newTestJob(t)
	if err := j.MarkRunning(); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := j.MarkError(errors.New("stream reset")); err != nil {
		t.Fatalf("mark error: %v", err)
	}
	rec := readDescriptor(t, j.Snapshot().SpoolDir)
	if rec.Status != StatusError {
		t.Fatalf("status: got %s, want %s", rec.Status, StatusError)
	}
	if rec.Error != "stream reset" {
		t.Fatalf("error message: got %q", rec.Error)
	}
	if rec.DoneAt == nil {
		t.Fatal("done_at not set on error")
	}
}

func TestProgressMonotonic(t *testing.T) {
	j := newTestJob(t)
	if err := j.MarkRunning(); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := j.SetProgress(40); err != nil {
		t.Fatalf("set progress: %v", err)
	}
	if err := j.SetProgress(25); err != nil {
		t.Fatalf("stale progress: %v", err)
	}
	if got := j.Snapshot().Progress; got != 40 {
		t.Fatalf("progress regressed: got %v, want 40", got)
	}
}

func TestNoteErrorKeepsStatus(t *testing.T) {
	j := newTestJob(t)
	if err := j.MarkRunning(); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := j.MarkDone(); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if err := j.NoteError("callback failed: connection refused"); err != nil {
		t.Fatalf("note error: %v", err)
	}
	rec := j.Snapshot()
	if rec.Status != StatusDone {
		t.Fatalf("status changed by note: %s", rec.Status)
	}
	if rec.Error == "" {
		t.Fatal("note not recorded")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	spool := filepath.Join(root, "abc-123")
	if err := os.MkdirAll(spool, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	j := New(Record{
		ID:         "abc-123",
		Filename:   "abc-123.mp4",
		SpoolDir:   spool,
		StorageDir: spool,
	})
	if err := j.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}

	rec, err := Load(root, "abc-123")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.ID != "abc-123" || rec.Status != StatusPending {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestLoadMissingJob(t *testing.T) {
	_, err := Load(t.TempDir(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJobErrorWrapsCause(t *testing.T) {
	cause := errors.New("spawn failed")
	err := &Error{JobID: "j1", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be detectable")
	}
	if err.Error() != "job j1: spawn failed" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}
