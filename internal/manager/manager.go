// Package manager owns the public face of capture scheduling: it creates job
// records, hands work to the pool, and turns pool results into callbacks and
// retired records.
package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/camkeep/camkeep/internal/bus"
	"github.com/camkeep/camkeep/internal/job"
	"github.com/camkeep/camkeep/internal/pool"
)

// Options configures a Manager.
type Options struct {
	SpoolRoot  string
	StorageDir string

	Store  *job.Store
	Pool   *pool.Pool
	Runner CaptureRunner

	// CallbackTimeout bounds outbound completion notifications; defaults
	// to 30s.
	CallbackTimeout time.Duration
	HTTPClient      *http.Client

	Publisher bus.Publisher
	Logger    *slog.Logger
}

// CaptureRunner executes one job to a terminal state. *capture.Runner is
// the production implementation.
type CaptureRunner interface {
	Run(ctx context.Context, j *job.Job) error
}

// Manager accepts download requests and supervises them to retirement.
type Manager struct {
	spoolRoot  string
	storageDir string
	store      *job.Store
	pool       *pool.Pool
	runner     CaptureRunner
	http       *http.Client
	publisher  bus.Publisher
	logger     *slog.Logger
}

func New(opts Options) (*Manager, error) {
	if opts.SpoolRoot == "" {
		return nil, errors.New("spool root is required")
	}
	if opts.Store == nil || opts.Pool == nil || opts.Runner == nil {
		return nil, errors.New("store, pool and runner are required")
	}

	timeout := opts.CallbackTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = bus.Noop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		spoolRoot:  opts.SpoolRoot,
		storageDir: opts.StorageDir,
		store:      opts.Store,
		pool:       opts.Pool,
		runner:     opts.Runner,
		http:       hc,
		publisher:  publisher,
		logger:     logger,
	}, nil
}

// SubmitRequest carries everything needed to create a capture job. The time
// window is expected to be the recorder-adjusted one; its span is the
// authoritative capture duration.
type SubmitRequest struct {
	CameraID    int
	URI         string
	StartTime   time.Time
	EndTime     time.Time
	Filename    string
	CallbackURI string
}

// Submit creates the job record, persists it as pending, and enqueues the
// capture. It returns the full descriptor immediately; execution is
// asynchronous.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (job.Record, error) {
	id := uuid.NewString()

	filename := req.Filename
	if filename == "" {
		filename = id + ".mp4"
	}
	spoolDir := filepath.Join(m.spoolRoot, id)
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return job.Record{}, fmt.Errorf("create spool directory: %w", err)
	}

	// Without a configured storage directory the artifact rests where it
	// was captured and the job never enters the moving state.
	storageDir := m.storageDir
	if storageDir == "" {
		storageDir = spoolDir
	}

	j := job.New(job.Record{
		ID:          id,
		CameraID:    req.CameraID,
		URI:         req.URI,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Filename:    filename,
		SpoolDir:    spoolDir,
		StorageDir:  storageDir,
		CallbackURI: req.CallbackURI,
	})
	if err := j.Persist(); err != nil {
		return job.Record{}, err
	}
	m.store.Put(j)

	err := m.pool.Submit(pool.Task{
		JobID: id,
		Run: func(taskCtx context.Context) error {
			return m.runner.Run(taskCtx, j)
		},
	})
	if err != nil {
		m.store.Delete(id)
		return job.Record{}, fmt.Errorf("enqueue job %s: %w", id, err)
	}

	m.logger.Info("job submitted", "job_id", id, "camera_id", req.CameraID, "duration", req.EndTime.Sub(req.StartTime))
	return j.Snapshot(), nil
}

// GetByID returns the active record from memory, falling back to the
// persisted descriptor for retired jobs. job.ErrNotFound when neither
// exists.
func (m *Manager) GetByID(id string) (job.Record, error) {
	if j := m.store.Get(id); j != nil {
		return j.Snapshot(), nil
	}
	return job.Load(m.spoolRoot, id)
}

// ListActive snapshots every not-yet-retired job.
func (m *Manager) ListActive() []job.Record {
	return m.store.Active()
}

// Run consumes pool results until both completion channels close. It is the
// only goroutine that retires records, so the pool's exactly-once delivery
// translates directly into exactly-one retirement per job.
func (m *Manager) Run() {
	doneCh := m.pool.Done()
	failedCh := m.pool.Failed()
	for doneCh != nil || failedCh != nil {
		select {
		case id, ok := <-doneCh:
			if !ok {
				doneCh = nil
				continue
			}
			m.handleDone(id)
		case jobErr, ok := <-failedCh:
			if !ok {
				failedCh = nil
				continue
			}
			m.handleFailed(jobErr)
		}
	}
}

func (m *Manager) handleDone(id string) {
	j := m.store.Get(id)
	if j == nil {
		m.logger.Error("completed job missing from store", "job_id", id)
		return
	}
	m.finalize(j)
}

func (m *Manager) handleFailed(jobErr *job.Error) {
	m.logger.Error("job failed", "job_id", jobErr.JobID, "err", jobErr.Err)
	j := m.store.Get(jobErr.JobID)
	if j == nil {
		m.logger.Error("failed job missing from store", "job_id", jobErr.JobID)
		return
	}
	m.finalize(j)
}

// finalize delivers the callback when one is configured and retires the
// in-memory record either way. The on-disk descriptor remains the permanent
// record.
func (m *Manager) finalize(j *job.Job) {
	rec := j.Snapshot()
	if rec.CallbackURI != "" {
		if err := m.deliverCallback(rec); err != nil {
			m.logger.Warn("callback delivery failed", "job_id", rec.ID, "callback_uri", rec.CallbackURI, "err", err)
			if noteErr := j.NoteError(fmt.Sprintf("callback delivery failed: %v", err)); noteErr != nil {
				m.logger.Error("record callback failure", "job_id", rec.ID, "err", noteErr)
			}
		}
	}

	if err := m.publisher.PublishJSON(bus.SubjectDone, j.Snapshot()); err != nil {
		m.logger.Warn("publish done event", "job_id", rec.ID, "err", err)
	}

	m.store.Delete(rec.ID)
	m.logger.Info("job retired", "job_id", rec.ID, "status", rec.Status)
}

// deliverCallback POSTs the final descriptor to the job's callback URI.
// Subscribers observe failures too: the error-state descriptor is delivered
// the same way.
func (m *Manager) deliverCallback(rec job.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, rec.CallbackURI, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
