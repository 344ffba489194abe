// Package progress tracks the state of an in-flight model download.
// It contains a pure line parser for pull output and a mutex-guarded
// tracker that HTTP handlers and the download supervisor share.
package progress

// Kind classifies what a parsed output line carries.
type Kind string

const (
	// KindInfo is an unclassified line; only Message is meaningful.
	KindInfo Kind = "info"

	// KindMilestone is a discrete phase transition (manifest, verify,
	// write, success) with a fixed status label and percent.
	KindMilestone Kind = "milestone"

	// KindLayerProgress is a per-layer percent line rescaled into the
	// 5-90 band.
	KindLayerProgress Kind = "layer_progress"

	// KindKeyword is a best-effort classification of a line that
	// matched neither a milestone nor a percent pattern.
	KindKeyword Kind = "keyword"
)

// Update is the structured result of parsing one line of pull output.
// Optional fields carry an explicit presence flag so consumers never
// have to guess whether a zero value means "absent" or "zero".
type Update struct {
	Kind    Kind
	Message string

	// Status is a human-readable phase label.
	Status    string
	HasStatus bool

	// Progress is the overall percent (already rescaled for layer
	// lines). Consumers apply it under a monotonicity guard.
	Progress    int
	HasProgress bool

	// Layer is the active content-addressed layer for this update,
	// either captured from this line or inherited from the caller.
	Layer    string
	HasLayer bool

	// RawPercent is the unscaled per-layer percent as printed.
	RawPercent    int
	HasRawPercent bool

	// LayerDone marks the active layer as fully transferred
	// (raw percent reached 99 or above).
	LayerDone bool

	// Completed/Total are transferred/total size strings, verbatim.
	Completed string
	Total     string
	HasSize   bool

	// Speed is the transfer rate string, verbatim.
	Speed    string
	HasSpeed bool

	// Terminal signals download completion (the success milestone).
	Terminal bool

	// Failed signals an explicit error line.
	Failed bool
}
