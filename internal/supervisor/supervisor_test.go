package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-project/drover/internal/config"
	"github.com/drover-project/drover/internal/daemon"
	"github.com/drover-project/drover/internal/progress"
	"github.com/drover-project/drover/internal/storage"
)

type fakeDaemon struct {
	mu        sync.Mutex
	available bool
	updates   []daemon.PullUpdate
	pullErr   error
}

func (f *fakeDaemon) IsModelAvailable(ctx context.Context, model string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available, nil
}

func (f *fakeDaemon) Pull(ctx context.Context, model string, onLine func(daemon.PullUpdate)) error {
	f.mu.Lock()
	updates := f.updates
	err := f.pullErr
	f.mu.Unlock()

	for _, u := range updates {
		onLine(u)
	}
	return err
}

type fakePuller struct {
	lines   []string
	err     error
	block   chan struct{} // when set, Pull waits for close or ctx
	started chan struct{}
}

func (f *fakePuller) Pull(ctx context.Context, model string, onLine func(string)) error {
	if f.started != nil {
		close(f.started)
	}
	for _, line := range f.lines {
		onLine(line)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() config.DownloadConfig {
	return config.DownloadConfig{
		Mode:            config.PullModeCLI,
		PullCommand:     "ollama",
		CooldownSeconds: 5,
		StallSeconds:    60,
		HardTimeout:     300,
		CompletionGrace: 0,
	}
}

func newTestSupervisor(t *testing.T, cfg config.DownloadConfig, d ModelDaemon) (*Supervisor, *progress.Tracker, *storage.MemoryStore, *testClock) {
	t.Helper()

	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	tracker := progress.NewTracker()
	tracker.SetClock(clock.Now)
	store := storage.NewMemoryStore()

	s := New(cfg, d, tracker, store, nil)
	return s, tracker, store, clock
}

func waitIdle(t *testing.T, tracker *progress.Tracker) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !tracker.IsDownloading()
	}, 5*time.Second, 10*time.Millisecond)
}

func waitAttempts(t *testing.T, store *storage.MemoryStore, outcome storage.AttemptOutcome) *storage.DownloadAttempt {
	t.Helper()

	var found *storage.DownloadAttempt
	require.Eventually(t, func() bool {
		attempts, err := store.ListAttempts(context.Background(), 0)
		if err != nil || len(attempts) == 0 {
			return false
		}
		if attempts[0].Outcome != outcome {
			return false
		}
		found = attempts[0]
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return found
}

func TestStartAlreadyAvailable(t *testing.T) {
	s, tracker, _, _ := newTestSupervisor(t, testConfig(), &fakeDaemon{available: true})

	result := s.Start("llama3:8b")
	assert.Equal(t, OutcomeAlreadyAvailable, result.Outcome)

	snap := tracker.Snapshot()
	assert.False(t, snap.Downloading)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, "Model ready", snap.Status)
}

func TestStartRateLimited(t *testing.T) {
	s, _, _, clock := newTestSupervisor(t, testConfig(), &fakeDaemon{available: true})

	first := s.Start("llama3:8b")
	require.Equal(t, OutcomeAlreadyAvailable, first.Outcome)

	clock.Advance(2 * time.Second)
	second := s.Start("mistral:7b")
	assert.Equal(t, OutcomeRateLimited, second.Outcome)
	assert.Equal(t, 3, second.RetryAfterSeconds)

	clock.Advance(3 * time.Second)
	third := s.Start("mistral:7b")
	assert.Equal(t, OutcomeAlreadyAvailable, third.Outcome)
}

func TestStartAlreadyRunning(t *testing.T) {
	s, tracker, _, _ := newTestSupervisor(t, testConfig(), &fakeDaemon{})
	release := make(chan struct{})
	started := make(chan struct{})
	s.SetPuller(&fakePuller{block: release, started: started})

	result := s.Start("llama3:8b")
	require.Equal(t, OutcomeStarted, result.Outcome)
	<-started

	second := s.Start("mistral:7b")
	assert.Equal(t, OutcomeAlreadyRunning, second.Outcome)
	assert.Equal(t, "llama3:8b", second.Model)

	close(release)
	waitIdle(t, tracker)
}

func TestStartDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Disabled = true
	s, _, _, _ := newTestSupervisor(t, cfg, &fakeDaemon{})

	result := s.Start("llama3:8b")
	assert.Equal(t, OutcomeDisabled, result.Outcome)
}

func TestRunCompletesViaSuccessLine(t *testing.T) {
	s, tracker, store, _ := newTestSupervisor(t, testConfig(), &fakeDaemon{})
	s.SetPuller(&fakePuller{lines: []string{
		"pulling manifest",
		"pulling a1b2c3... 42%",
		"pulling a1b2c3... 100%",
		"verifying sha256 digest",
		"writing manifest",
		"success",
	}})

	result := s.Start("llama3:8b")
	require.Equal(t, OutcomeStarted, result.Outcome)
	waitIdle(t, tracker)

	snap := tracker.Snapshot()
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, "Download complete!", snap.Status)
	assert.Equal(t, []string{"a1b2c3"}, snap.CompletedLayers)

	attempt := waitAttempts(t, store, storage.OutcomeCompleted)
	assert.Equal(t, "llama3:8b", attempt.Model)
	assert.Equal(t, 100, attempt.Progress)
	assert.NotNil(t, attempt.FinishedAt)
}

func TestRunCompletesOnCleanExitWithoutSuccessLine(t *testing.T) {
	s, tracker, store, _ := newTestSupervisor(t, testConfig(), &fakeDaemon{})
	s.SetPuller(&fakePuller{lines: []string{"pulling a1b2c3... 80%"}})

	require.Equal(t, OutcomeStarted, s.Start("llama3:8b").Outcome)
	waitIdle(t, tracker)

	snap := tracker.Snapshot()
	assert.Equal(t, 100, snap.Progress)
	assert.False(t, snap.Downloading)
	waitAttempts(t, store, storage.OutcomeCompleted)
}

func TestRunFailsOnPullError(t *testing.T) {
	s, tracker, store, _ := newTestSupervisor(t, testConfig(), &fakeDaemon{})
	s.SetPuller(&fakePuller{err: errors.New("exec: \"ollama\": executable file not found in $PATH")})

	require.Equal(t, OutcomeStarted, s.Start("llama3:8b").Outcome)
	waitIdle(t, tracker)

	snap := tracker.Snapshot()
	assert.False(t, snap.Downloading)
	assert.Equal(t, 0, snap.Progress)
	assert.Contains(t, snap.Status, "executable file not found")

	attempt := waitAttempts(t, store, storage.OutcomeFailed)
	assert.Contains(t, attempt.Message, "executable file not found")
}

func TestRunFailsOnParsedErrorLine(t *testing.T) {
	s, tracker, store, _ := newTestSupervisor(t, testConfig(), &fakeDaemon{})
	s.SetPuller(&fakePuller{lines: []string{
		"pulling a1b2c3... 42%",
		"Error: pull model manifest: file does not exist",
	}})

	require.Equal(t, OutcomeStarted, s.Start("llama3:8b").Outcome)
	waitIdle(t, tracker)

	snap := tracker.Snapshot()
	assert.Contains(t, snap.Status, "file does not exist")
	waitAttempts(t, store, storage.OutcomeFailed)
}

func TestRunHardTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.HardTimeout = 1
	s, tracker, store, _ := newTestSupervisor(t, cfg, &fakeDaemon{})
	s.SetPuller(&fakePuller{block: make(chan struct{})})

	require.Equal(t, OutcomeStarted, s.Start("llama3:8b").Outcome)
	waitIdle(t, tracker)

	snap := tracker.Snapshot()
	assert.Contains(t, snap.Status, "timed out")
	waitAttempts(t, store, storage.OutcomeTimedOut)
}

func TestRunHTTPPullMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = config.PullModeHTTP
	d := &fakeDaemon{updates: []daemon.PullUpdate{
		{Status: "pulling manifest"},
		{Status: "pulling a1b2c3", Digest: "sha256:a1b2c3", Total: 100, Completed: 50},
		{Status: "pulling a1b2c3", Digest: "sha256:a1b2c3", Total: 100, Completed: 100},
		{Status: "success"},
	}}
	s, tracker, store, _ := newTestSupervisor(t, cfg, d)

	require.Equal(t, OutcomeStarted, s.Start("llama3:8b").Outcome)
	waitIdle(t, tracker)

	snap := tracker.Snapshot()
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, "Download complete!", snap.Status)
	assert.Equal(t, []string{"a1b2c3"}, snap.CompletedLayers)
	waitAttempts(t, store, storage.OutcomeCompleted)
}

func TestCloseJoinsBackgroundTask(t *testing.T) {
	s, tracker, _, _ := newTestSupervisor(t, testConfig(), &fakeDaemon{})
	started := make(chan struct{})
	s.SetPuller(&fakePuller{block: make(chan struct{}), started: started})

	require.Equal(t, OutcomeStarted, s.Start("llama3:8b").Outcome)
	<-started

	require.NoError(t, s.Close(2*time.Second))
	assert.False(t, tracker.IsDownloading())
}

func TestCloseNoop(t *testing.T) {
	s, _, _, _ := newTestSupervisor(t, testConfig(), &fakeDaemon{})
	assert.NoError(t, s.Close(time.Second))
}

func TestPullUpdateLine(t *testing.T) {
	tests := []struct {
		name   string
		update daemon.PullUpdate
		want   string
	}{
		{
			"plain status",
			daemon.PullUpdate{Status: "pulling manifest"},
			"pulling manifest",
		},
		{
			"layer with digest",
			daemon.PullUpdate{Status: "pulling a1b2c3", Digest: "sha256:a1b2c3", Total: 4096, Completed: 2048},
			"pulling a1b2c3... 50% 2.0 KB/4.0 KB",
		},
		{
			"error",
			daemon.PullUpdate{Error: "model not found"},
			"error: model not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pullUpdateLine(tt.update))
		})
	}
}
