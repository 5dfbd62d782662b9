// Package capture drives one job's ffmpeg subprocess from launch to a
// terminal job state: remux the stream into the spool file, follow progress
// on stderr, cut the capture off when the requested window has elapsed, then
// relocate the artifact and finalize the record.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/camkeep/camkeep/internal/bus"
	"github.com/camkeep/camkeep/internal/job"
	"github.com/camkeep/camkeep/internal/preview"
	"github.com/camkeep/camkeep/internal/progress"
	"github.com/camkeep/camkeep/pkg/schema"
)

const defaultReadBuffer = 1024

// Options configures a Runner.
type Options struct {
	FFmpegPath   string
	PollInterval time.Duration // wait-for-output bound per loop iteration; defaults to 1s
	ReadBuffer   int           // stderr read size per iteration; defaults to 1024

	// Stream credentials, injected into the source URI's authority part
	// when set.
	Username string
	Password string

	Publisher bus.Publisher
	Previews  *preview.Extractor
	Logger    *slog.Logger
}

// Runner executes capture jobs. One Run call owns its job exclusively: no
// other party writes the job's fields while it is active.
type Runner struct {
	ffmpegPath   string
	pollInterval time.Duration
	readBuffer   int
	username     string
	password     string
	publisher    bus.Publisher
	previews     *preview.Extractor
	logger       *slog.Logger
}

func NewRunner(opts Options) *Runner {
	r := &Runner{
		ffmpegPath:   opts.FFmpegPath,
		pollInterval: opts.PollInterval,
		readBuffer:   opts.ReadBuffer,
		username:     opts.Username,
		password:     opts.Password,
		publisher:    opts.Publisher,
		previews:     opts.Previews,
		logger:       opts.Logger,
	}
	if r.ffmpegPath == "" {
		r.ffmpegPath = "ffmpeg"
	}
	if r.pollInterval <= 0 {
		r.pollInterval = time.Second
	}
	if r.readBuffer <= 0 {
		r.readBuffer = defaultReadBuffer
	}
	if r.publisher == nil {
		r.publisher = bus.Noop{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Run executes the job to a terminal state. Any failure is recorded on the
// job (status error, message, done_at) before being returned wrapped with
// the job identifier; the record is never left in running or moving.
func (r *Runner) Run(ctx context.Context, j *job.Job) error {
	logger := r.logger.With("job_id", j.ID())
	if err := r.run(ctx, j, logger); err != nil {
		if markErr := j.MarkError(err); markErr != nil {
			logger.Error("record job failure", "err", markErr, "cause", err)
		}
		r.publishLifecycle(j)
		return &job.Error{JobID: j.ID(), Err: err}
	}
	return nil
}

func (r *Runner) run(ctx context.Context, j *job.Job, logger *slog.Logger) error {
	rec := j.Snapshot()

	uri, err := r.injectCredentials(rec.URI)
	if err != nil {
		return err
	}

	// Remux, no re-encode, audio discarded.
	args := []string{
		"-hide_banner", "-y",
		"-rtsp_transport", "tcp",
		"-rtsp_flags", "prefer_tcp",
		"-i", uri,
		"-vcodec", "copy",
		"-an",
		rec.ArtifactPath(),
	}

	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	// Own process group: interrupt signals aimed at the parent never reach
	// the capture subprocess. Shutdown sequencing is the parent's job.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 10 * time.Second

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("open diagnostic pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	if err := j.MarkRunning(); err != nil {
		_ = cmd.Cancel()
		_ = cmd.Wait()
		return err
	}
	r.publishLifecycle(j)
	logger.Info("capture started", "uri", rec.URI, "duration", rec.Duration())

	stopping, progErr := r.followProgress(j, stderr, rec.Duration(), cmd, logger)
	waitErr := cmd.Wait()
	if progErr != nil {
		return progErr
	}
	switch {
	case stopping:
		// We asked the subprocess to stop; its exit status is noise.
	case ctx.Err() != nil:
		return fmt.Errorf("capture interrupted: %w", ctx.Err())
	case waitErr != nil:
		return fmt.Errorf("ffmpeg exited: %w", waitErr)
	}

	if rec.SpoolDir != rec.StorageDir {
		if err := j.MarkMoving(); err != nil {
			return err
		}
		r.publishLifecycle(j)
		if err := os.MkdirAll(rec.StorageDir, 0o755); err != nil {
			return fmt.Errorf("create storage directory: %w", err)
		}
		if err := moveFile(rec.ArtifactPath(), rec.FinalPath()); err != nil {
			return fmt.Errorf("relocate artifact: %w", err)
		}
		logger.Info("artifact relocated", "path", rec.FinalPath())
	}

	r.renderPreviews(ctx, j, logger)

	if err := j.MarkDone(); err != nil {
		return err
	}
	r.publishLifecycle(j)
	logger.Info("capture done")
	return nil
}

// followProgress reads the diagnostic stream until the subprocess closes it,
// feeding chunks to the progress parser and enforcing the duration bound.
// It reports whether a termination signal was sent.
func (r *Runner) followProgress(j *job.Job, stderr io.Reader, requested time.Duration, cmd *exec.Cmd, logger *slog.Logger) (stopping bool, err error) {
	chunks := make(chan []byte)
	go func() {
		defer close(chunks)
		buf := make([]byte, r.readBuffer)
		for {
			n, readErr := stderr.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				chunks <- chunk
			}
			if readErr != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	var elapsed time.Duration
	var persistErr error
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return stopping, persistErr
			}
			if persistErr != nil {
				continue // draining until the pipe closes
			}
			if parsed, pct, updated := progress.Update(chunk, requested); updated {
				elapsed = parsed
				if err := j.SetProgress(pct); err != nil {
					// Progress must stay durable; kill the subprocess and
					// keep consuming its output so it can exit.
					persistErr = err
					_ = cmd.Cancel()
					continue
				}
			}
		case <-ticker.C:
			// Bounded wait keeps the loop responsive to process exit.
		}

		// One termination signal, no matter how many further iterations
		// observe the elapsed window before the process actually exits.
		if persistErr == nil && elapsed > requested && !stopping {
			logger.Info("requested window elapsed, stopping capture", "elapsed", elapsed)
			if termErr := terminate(cmd); termErr != nil {
				logger.Warn("terminate capture subprocess", "err", termErr)
			}
			stopping = true
		}
	}
}

// terminate sends one graceful stop signal to the subprocess's group.
func terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return errors.New("subprocess not started")
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

// renderPreviews is best-effort: a preview failure is noted on the job but
// never fails a finished capture.
func (r *Runner) renderPreviews(ctx context.Context, j *job.Job, logger *slog.Logger) {
	if r.previews == nil {
		return
	}
	rec := j.Snapshot()
	clip := rec.ArtifactPath()
	if rec.SpoolDir != rec.StorageDir {
		clip = rec.FinalPath()
	}
	outputs, err := r.previews.Extract(ctx, clip)
	if err != nil {
		logger.Warn("render previews", "err", err)
		if noteErr := j.NoteError(fmt.Sprintf("preview rendering failed: %v", err)); noteErr != nil {
			logger.Error("record preview failure", "err", noteErr)
		}
		return
	}
	paths := make([]string, len(outputs))
	for i, out := range outputs {
		paths[i] = out.Path
	}
	if err := j.SetPreviews(paths); err != nil {
		logger.Error("record previews", "err", err)
	}
}

// injectCredentials places the configured username/password into the source
// URI's authority component.
func (r *Runner) injectCredentials(rawURI string) (string, error) {
	if r.username == "" {
		return rawURI, nil
	}
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", fmt.Errorf("parse source uri: %w", err)
	}
	u.User = url.UserPassword(r.username, r.password)
	return u.String(), nil
}

func (r *Runner) publishLifecycle(j *job.Job) {
	rec := j.Snapshot()
	evt := schema.JobLifecycleEvent{
		JobID:      rec.ID,
		CameraID:   rec.CameraID,
		Status:     string(rec.Status),
		Progress:   rec.Progress,
		Error:      rec.Error,
		HappenedAt: time.Now().Unix(),
	}
	if err := r.publisher.PublishJSON(bus.SubjectLifecycle, evt); err != nil {
		r.logger.Warn("publish lifecycle event", "job_id", rec.ID, "err", err)
	}
}

// moveFile renames src to dst, falling back to copy-and-remove when the
// spool and storage directories sit on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
