// Package supervisor runs model pulls on a background task, feeding
// output lines through the progress parser into the shared tracker and
// enforcing rate limits, stall detection and a hard timeout.
package supervisor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drover-project/drover/internal/config"
	"github.com/drover-project/drover/internal/daemon"
	"github.com/drover-project/drover/internal/logger"
	"github.com/drover-project/drover/internal/progress"
	"github.com/drover-project/drover/internal/storage"
	"github.com/drover-project/drover/internal/websocket"
)

// Outcome classifies the result of a Start call.
type Outcome string

const (
	OutcomeStarted          Outcome = "started"
	OutcomeAlreadyRunning   Outcome = "already_running"
	OutcomeAlreadyAvailable Outcome = "already_available"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeDisabled         Outcome = "disabled"
)

// StartResult is returned synchronously from Start.
type StartResult struct {
	Outcome           Outcome
	Model             string
	RetryAfterSeconds int
}

// ModelDaemon is the daemon surface the supervisor needs. *daemon.Client
// satisfies it.
type ModelDaemon interface {
	IsModelAvailable(ctx context.Context, model string) (bool, error)
	Pull(ctx context.Context, model string, onLine func(daemon.PullUpdate)) error
}

// CommandPuller runs the external pull command. *ProcessPuller satisfies it.
type CommandPuller interface {
	Pull(ctx context.Context, model string, onLine func(string)) error
}

// Broadcaster pushes events to connected clients. *websocket.Manager
// satisfies it; a nil Broadcaster disables event publishing.
type Broadcaster interface {
	Broadcast(event *websocket.Event)
}

// Supervisor owns the single background download task. At most one
// pull runs at a time; the tracker's downloading flag is the gate.
type Supervisor struct {
	cfg     config.DownloadConfig
	daemon  ModelDaemon
	puller  CommandPuller
	parser  *progress.Parser
	tracker *progress.Tracker
	store   storage.Store
	events  Broadcaster

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a supervisor. events may be nil.
func New(cfg config.DownloadConfig, d ModelDaemon, tracker *progress.Tracker, store storage.Store, events Broadcaster) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		daemon:  d,
		puller:  NewProcessPuller(cfg.PullCommand),
		parser:  progress.NewParser(),
		tracker: tracker,
		store:   store,
		events:  events,
	}
}

// SetPuller overrides the subprocess puller. Intended for tests.
func (s *Supervisor) SetPuller(p CommandPuller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puller = p
}

// Start begins a pull for the given model unless one is already in
// flight, the cooldown has not elapsed, or the model is already
// present. The download itself runs on a background goroutine.
func (s *Supervisor) Start(model string) StartResult {
	if s.cfg.Disabled {
		return StartResult{Outcome: OutcomeDisabled, Model: model}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.tracker.IsDownloading() {
		return StartResult{Outcome: OutcomeAlreadyRunning, Model: s.tracker.Model()}
	}

	cooldown := time.Duration(s.cfg.CooldownSeconds) * time.Second
	if elapsed := s.tracker.SinceLastAttempt(); elapsed >= 0 && elapsed < cooldown {
		retry := int(math.Ceil((cooldown - elapsed).Seconds()))
		return StartResult{
			Outcome:           OutcomeRateLimited,
			Model:             model,
			RetryAfterSeconds: retry,
		}
	}
	s.tracker.MarkAttempt()

	// Short-circuit: nothing to pull if the daemon already has it.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	available, err := s.daemon.IsModelAvailable(ctx, model)
	cancel()
	if err == nil && available {
		logger.Infof("Model %s already available, skipping pull", model)
		s.tracker.MarkReady()
		return StartResult{Outcome: OutcomeAlreadyAvailable, Model: model}
	}

	s.tracker.Reset(model)
	s.running = true

	runCtx, runCancel := context.WithCancel(context.Background())
	s.cancel = runCancel
	s.done = make(chan struct{})

	go s.run(runCtx, model, s.done)

	logger.Infof("Download started for model %s (mode=%s)", model, s.cfg.Mode)
	return StartResult{Outcome: OutcomeStarted, Model: model}
}

// run drives one download attempt to a terminal state. Every exit path
// ends in a tracker transition; nothing fails silently.
func (s *Supervisor) run(ctx context.Context, model string, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	attempt := &storage.DownloadAttempt{
		ID:        uuid.New().String(),
		Model:     model,
		Outcome:   storage.OutcomeRunning,
		StartedAt: time.Now(),
	}
	if err := s.store.SaveAttempt(ctx, attempt); err != nil {
		logger.Warnf("Failed to record download attempt: %v", err)
	}

	hardTimeout := time.Duration(s.cfg.HardTimeout) * time.Second
	pullCtx, cancel := context.WithTimeout(ctx, hardTimeout)
	defer cancel()

	stallDone := make(chan struct{})
	go s.watchStalls(pullCtx, stallDone)

	var failMsg string
	onLine := func(line string) {
		u := s.parser.Parse(line, s.tracker.CurrentLayer())
		s.tracker.ApplyUpdate(u)
		if u.Failed && failMsg == "" {
			failMsg = u.Message
		}
		s.publishProgress()
	}

	var err error
	if s.cfg.Mode == config.PullModeCLI {
		err = s.puller.Pull(pullCtx, model, onLine)
	} else {
		err = s.daemon.Pull(pullCtx, model, func(u daemon.PullUpdate) {
			onLine(pullUpdateLine(u))
		})
	}

	close(stallDone)

	switch {
	case pullCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		msg := fmt.Sprintf("Download timed out after %s, pull terminated", hardTimeout)
		logger.Error(msg)
		s.finishFailed(attempt, storage.OutcomeTimedOut, msg, model)

	case err != nil:
		msg := fmt.Sprintf("Download failed: %v", err)
		logger.Error(msg)
		s.finishFailed(attempt, storage.OutcomeFailed, msg, model)

	case failMsg != "":
		msg := "Download failed: " + failMsg
		logger.Error(msg)
		s.finishFailed(attempt, storage.OutcomeFailed, msg, model)

	default:
		// Exit code 0 without a success line still counts as done.
		if s.tracker.IsDownloading() {
			s.tracker.MarkCompleted()
		}
		s.finishCompleted(ctx, attempt, model)
	}
}

// watchStalls periodically flags downloads with no observable change.
// Purely advisory: the process is left alone.
func (s *Supervisor) watchStalls(ctx context.Context, done <-chan struct{}) {
	stallAfter := time.Duration(s.cfg.StallSeconds) * time.Second

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if since := s.tracker.SinceLastUpdate(); since >= stallAfter {
				logger.Warnf("No download progress for %s", since.Round(time.Second))
				s.tracker.MarkStalled()
				s.publishProgress()
			}
		}
	}
}

func (s *Supervisor) finishCompleted(ctx context.Context, attempt *storage.DownloadAttempt, model string) {
	logger.Infof("Download completed for model %s", model)

	s.recordOutcome(attempt, storage.OutcomeCompleted, "")
	if s.events != nil {
		s.events.Broadcast(websocket.NewCompletionEvent(model))
	}

	// Re-verify availability after a short grace period. The daemon
	// can lag in listing a freshly pulled model; this check is
	// advisory and never fails the attempt.
	grace := time.Duration(s.cfg.CompletionGrace) * time.Second
	select {
	case <-ctx.Done():
		return
	case <-time.After(grace):
	}

	checkCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	available, err := s.daemon.IsModelAvailable(checkCtx, model)
	if err != nil {
		logger.Warnf("Post-download availability check failed: %v", err)
		return
	}
	if !available {
		logger.Warnf("Model %s still not listed %s after download completion", model, grace)
	}
}

func (s *Supervisor) finishFailed(attempt *storage.DownloadAttempt, outcome storage.AttemptOutcome, msg, model string) {
	s.tracker.MarkError(msg)
	s.recordOutcome(attempt, outcome, msg)
	if s.events != nil {
		s.events.Broadcast(websocket.NewErrorEvent(model, msg))
	}
}

func (s *Supervisor) recordOutcome(attempt *storage.DownloadAttempt, outcome storage.AttemptOutcome, msg string) {
	snap := s.tracker.Snapshot()
	now := time.Now()

	attempt.Outcome = outcome
	attempt.Message = msg
	attempt.Progress = snap.Progress
	attempt.FinishedAt = &now

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.UpdateAttempt(ctx, attempt); err != nil {
		logger.Warnf("Failed to update download attempt record: %v", err)
	}
}

func (s *Supervisor) publishProgress() {
	if s.events == nil {
		return
	}
	s.events.Broadcast(websocket.NewProgressEvent(s.tracker.Snapshot()))
}

// Close cancels any in-flight download and waits up to timeout for the
// background task to exit.
func (s *Supervisor) Close(timeout time.Duration) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	running := s.running
	s.mu.Unlock()

	if !running || done == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("download task did not exit within %s", timeout)
	}
}

// pullUpdateLine renders a streaming pull update as a text line in the
// same shape the CLI prints, so both modes share one parser.
func pullUpdateLine(u daemon.PullUpdate) string {
	if u.Error != "" {
		return "error: " + u.Error
	}
	if u.Total <= 0 {
		return u.Status
	}

	pct := int(u.Completed * 100 / u.Total)
	digest := strings.TrimPrefix(u.Digest, "sha256:")
	if digest != "" && strings.HasPrefix(u.Status, "pulling") {
		return fmt.Sprintf("pulling %s... %d%% %s/%s", digest, pct, humanSize(u.Completed), humanSize(u.Total))
	}
	return fmt.Sprintf("%s %d%%", u.Status, pct)
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
