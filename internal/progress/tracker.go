package progress

import (
	"fmt"
	"sync"
	"time"
)

// State is a serialization-safe snapshot of the tracker. Timestamps are
// epoch seconds; zero means unset. CompletedLayers is rendered in
// insertion order.
type State struct {
	Downloading     bool           `json:"downloading"`
	Model           string         `json:"model"`
	Status          string         `json:"status"`
	Progress        int            `json:"progress"`
	CurrentLayer    string         `json:"current_layer"`
	CompletedLayers []string       `json:"completed_layers"`
	LayerProgress   map[string]int `json:"layer_progress"`
	Completed       string         `json:"completed"`
	Total           string         `json:"total"`
	Speed           string         `json:"speed"`
	StartTime       float64        `json:"start_time"`
	LastUpdate      float64        `json:"last_update"`
	CompletionTime  float64        `json:"completion_time"`
	LastAttemptTime float64        `json:"last_download_attempt_time"`
	DownloadCount   int64          `json:"download_count"`
	APICallCount    int64          `json:"api_call_count"`
}

// Tracker holds the mutable state of the current model download. It is
// shared between the download supervisor (writer) and the HTTP handlers
// (readers); every access goes through a single mutex so readers always
// see a consistent snapshot.
type Tracker struct {
	mu  sync.Mutex
	now func() time.Time

	downloading     bool
	model           string
	status          string
	progress        int
	currentLayer    string
	completedLayers []string
	completedSet    map[string]struct{}
	layerProgress   map[string]int
	completed       string
	total           string
	speed           string
	startTime       time.Time
	lastUpdate      time.Time
	completionTime  time.Time
	lastAttemptTime time.Time
	downloadCount   int64
	apiCallCount    int64

	onCompleted func()
}

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		now:           time.Now,
		completedSet:  make(map[string]struct{}),
		layerProgress: make(map[string]int),
	}
}

// SetClock overrides the time source. Intended for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// SetOnCompleted registers a callback invoked after each completion,
// used to invalidate the cached health response (the daemon's model
// list may have changed). The callback runs outside the tracker lock.
func (t *Tracker) SetOnCompleted(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCompleted = fn
}

// Reset prepares the tracker for a fresh download of the given model.
func (t *Tracker) Reset(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.downloading = true
	t.model = model
	t.status = "Initializing..."
	t.progress = 0
	t.currentLayer = ""
	t.completedLayers = nil
	t.completedSet = make(map[string]struct{})
	t.layerProgress = make(map[string]int)
	t.completed = ""
	t.total = ""
	t.speed = ""
	t.startTime = now
	t.lastUpdate = now
	t.completionTime = time.Time{}
}

// ApplyUpdate folds one parsed line into the state. Progress only moves
// forward; a lower value than the recorded one is dropped so the bar
// never flickers backward when phases interleave.
func (t *Tracker) ApplyUpdate(u Update) {
	t.mu.Lock()

	t.lastUpdate = t.now()

	if u.HasLayer {
		if _, done := t.completedSet[u.Layer]; !done {
			t.currentLayer = u.Layer
		}
	}

	if u.HasProgress && u.Progress > t.progress {
		t.progress = u.Progress
	}

	if u.HasLayer && u.HasRawPercent {
		t.layerProgress[u.Layer] = u.Progress
	}

	if u.LayerDone && u.HasLayer {
		if _, seen := t.completedSet[u.Layer]; !seen {
			t.completedSet[u.Layer] = struct{}{}
			t.completedLayers = append(t.completedLayers, u.Layer)
		}
	}

	if u.HasSize {
		t.completed = u.Completed
		t.total = u.Total
	}
	if u.HasSpeed {
		t.speed = u.Speed
	}

	switch {
	case u.Kind == KindLayerProgress:
		// Synthesize the label from the effective (post-guard) percent
		// so the displayed number never regresses either.
		if t.currentLayer != "" {
			t.status = fmt.Sprintf("Downloading file: %s... (%d%%)", shortLayer(t.currentLayer), t.progress)
		} else {
			t.status = fmt.Sprintf("Downloading model... (%d%%)", t.progress)
		}
	case u.HasStatus:
		t.status = u.Status
	}

	if u.Terminal {
		t.completeLocked(t.status)
		cb := t.onCompleted
		t.mu.Unlock()
		if cb != nil {
			cb()
		}
		return
	}

	t.mu.Unlock()
}

// MarkStalled updates only the status message. It is advisory: the
// numeric progress and the underlying process are untouched.
func (t *Tracker) MarkStalled() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.downloading {
		return
	}
	t.status = fmt.Sprintf("Download stalled at %d%% - still waiting for output", t.progress)
}

// MarkCompleted finalizes a successful download.
func (t *Tracker) MarkCompleted() {
	t.mu.Lock()
	t.completeLocked("Download complete!")
	cb := t.onCompleted
	t.mu.Unlock()

	if cb != nil {
		cb()
	}
}

func (t *Tracker) completeLocked(status string) {
	t.downloading = false
	t.progress = 100
	t.status = status
	t.completionTime = t.now()
	t.lastUpdate = t.completionTime
	t.downloadCount++
}

// MarkError finalizes a failed download with the given message.
func (t *Tracker) MarkError(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.downloading = false
	t.progress = 0
	t.status = message
	t.completionTime = t.now()
	t.lastUpdate = t.completionTime
}

// MarkReady corrects the tracker when the daemon reports the model
// available while a download still appears in flight. Reconciliation on
// every status read compensates for a missed process-exit signal.
func (t *Tracker) MarkReady() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.downloading = false
	t.status = "Model ready"
	t.progress = 100
	t.completionTime = t.now()
	t.lastUpdate = t.completionTime
}

// IsDownloading reports whether a pull is currently in flight.
func (t *Tracker) IsDownloading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.downloading
}

// Model returns the model id of the current or last download.
func (t *Tracker) Model() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.model
}

// CurrentLayer returns the layer id currently transferring, used to
// carry layer context between parsed lines.
func (t *Tracker) CurrentLayer() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentLayer
}

// MarkAttempt records a download trigger for rate limiting.
func (t *Tracker) MarkAttempt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastAttemptTime = t.now()
}

// SinceLastAttempt returns the time elapsed since the previous download
// trigger, or a negative duration if none was recorded.
func (t *Tracker) SinceLastAttempt() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastAttemptTime.IsZero() {
		return -1
	}
	return t.now().Sub(t.lastAttemptTime)
}

// SinceCompletion returns the time elapsed since the last completion,
// or a negative duration if no download has finished.
func (t *Tracker) SinceCompletion() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.completionTime.IsZero() {
		return -1
	}
	return t.now().Sub(t.completionTime)
}

// SinceLastUpdate returns the time elapsed since the last observable
// state change, used for stall detection.
func (t *Tracker) SinceLastUpdate() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastUpdate.IsZero() {
		return -1
	}
	return t.now().Sub(t.lastUpdate)
}

// CountAPICall increments the status-check counter. Diagnostic only.
func (t *Tracker) CountAPICall() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.apiCallCount++
}

// Snapshot returns a deep copy of the state, safe for serialization.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	layers := make([]string, len(t.completedLayers))
	copy(layers, t.completedLayers)

	layerProgress := make(map[string]int, len(t.layerProgress))
	for k, v := range t.layerProgress {
		layerProgress[k] = v
	}

	return State{
		Downloading:     t.downloading,
		Model:           t.model,
		Status:          t.status,
		Progress:        t.progress,
		CurrentLayer:    t.currentLayer,
		CompletedLayers: layers,
		LayerProgress:   layerProgress,
		Completed:       t.completed,
		Total:           t.total,
		Speed:           t.speed,
		StartTime:       epochSeconds(t.startTime),
		LastUpdate:      epochSeconds(t.lastUpdate),
		CompletionTime:  epochSeconds(t.completionTime),
		LastAttemptTime: epochSeconds(t.lastAttemptTime),
		DownloadCount:   t.downloadCount,
		APICallCount:    t.apiCallCount,
	}
}

func epochSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func shortLayer(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
