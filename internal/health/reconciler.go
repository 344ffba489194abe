// Package health computes the externally reported model status from
// live daemon state plus locally tracked download state, and caches the
// serialized health payload for a short TTL.
package health

import (
	"sync"
	"time"

	"github.com/drover-project/drover/internal/logger"
	"github.com/drover-project/drover/internal/progress"
	"github.com/drover-project/drover/internal/types"
)

// Reconciler derives the reported status and corrects the tracker when
// it disagrees with what the daemon observes.
type Reconciler struct {
	gracePeriod time.Duration
}

// Reconciled is the tracker surface the reconciler needs. *progress.Tracker
// satisfies it.
type Reconciled interface {
	IsDownloading() bool
	SinceCompletion() time.Duration
	MarkReady()
}

// NewReconciler creates a reconciler with the given post-completion
// grace window. During that window the model is reported ready even if
// the daemon has not listed it yet.
func NewReconciler(gracePeriod time.Duration) *Reconciler {
	return &Reconciler{gracePeriod: gracePeriod}
}

// ComputeStatus reconciles daemon reachability, model availability and
// tracker state into a single reported status. First match wins.
func (r *Reconciler) ComputeStatus(daemonReachable, modelAvailable bool, tracker Reconciled) types.ModelStatus {
	// Self-healing: the daemon already has the model but the tracker
	// still shows an in-flight download. The supervisor's exit
	// detection can race with the daemon's completion signal, so
	// every status read corrects the disagreement.
	if modelAvailable && tracker.IsDownloading() {
		logger.Warn("Model reported available while download flag still set, clearing download state")
		tracker.MarkReady()
	}

	switch {
	case !daemonReachable:
		return types.StatusError
	case tracker.IsDownloading():
		return types.StatusDownloading
	case modelAvailable:
		return types.StatusOK
	case r.withinGrace(tracker):
		// The daemon may lag in reporting a newly pulled model.
		return types.StatusOK
	default:
		return types.StatusLoading
	}
}

func (r *Reconciler) withinGrace(tracker Reconciled) bool {
	since := tracker.SinceCompletion()
	return since >= 0 && since < r.gracePeriod
}

// CachedPayload is a previously computed health response.
type CachedPayload struct {
	Status   types.ModelStatus      `json:"status"`
	Body     map[string]interface{} `json:"body"`
	Snapshot progress.State         `json:"download_progress"`
}

// ResponseCache holds the last serialized health payload for a fixed
// TTL. Only the final payload is cached; the reconciler decision inputs
// are always read fresh.
type ResponseCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	payload  *CachedPayload
	storedAt time.Time
}

// NewResponseCache creates an empty cache with the given TTL.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		ttl: ttl,
		now: time.Now,
	}
}

// Get returns the cached payload if it is younger than the TTL.
func (c *ResponseCache) Get() (*CachedPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.payload == nil {
		return nil, false
	}
	if c.now().Sub(c.storedAt) >= c.ttl {
		return nil, false
	}
	return c.payload, true
}

// Put stores a freshly computed payload.
func (c *ResponseCache) Put(payload *CachedPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.payload = payload
	c.storedAt = c.now()
}

// Invalidate drops the cached payload. Called when a download completes
// because the daemon's model list may have changed.
func (c *ResponseCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.payload = nil
}

// TTLSeconds returns the cache TTL in whole seconds, for Cache-Control
// headers.
func (c *ResponseCache) TTLSeconds() int {
	return int(c.ttl / time.Second)
}
