package progress

import (
	"regexp"
	"strconv"
	"strings"
)

// milestone is a fixed phrase denoting a discrete download phase.
type milestone struct {
	phrase   string
	status   string
	percent  int
	terminal bool
}

// milestones are checked in order; the first substring match wins and
// short-circuits all other parsing rules.
var milestones = []milestone{
	{"pulling manifest", "Initializing download...", 2, false},
	{"verifying sha256 digest", "Verifying download...", 95, false},
	{"writing manifest", "Installing model...", 98, false},
	{"success", "Download complete!", 100, true},
}

// Parser extracts structured progress updates from pull output lines.
// The output format is best-effort text, not a stable schema, so every
// rule tolerates absence and malformed input never produces an error.
type Parser struct {
	layerRe   *regexp.Regexp
	percentRe *regexp.Regexp
	sizeRe    *regexp.Regexp
	speedRe   *regexp.Regexp
}

// NewParser compiles the line patterns once.
func NewParser() *Parser {
	return &Parser{
		layerRe:   regexp.MustCompile(`pulling\s+([a-f0-9]+)\.\.\.`),
		percentRe: regexp.MustCompile(`(\d+)%`),
		sizeRe:    regexp.MustCompile(`(\d+\.?\d*)\s*([KMGT]?B)/(\d+\.?\d*)\s*([KMGT]?B)`),
		speedRe:   regexp.MustCompile(`(\d+\.?\d*)\s*([KMGT]?B/s)`),
	}
}

// Parse converts one line of pull output into an Update. currentLayer
// is the layer captured from a previous line; it keys per-layer percent
// lines that do not repeat the layer id themselves.
func (p *Parser) Parse(line, currentLayer string) Update {
	trimmed := strings.TrimSpace(line)
	lower := strings.ToLower(trimmed)

	u := Update{
		Kind:    KindInfo,
		Message: trimmed,
	}

	// Layer identification persists across lines until a new id appears.
	active := currentLayer
	if m := p.layerRe.FindStringSubmatch(lower); m != nil {
		active = m[1]
	}
	if active != "" {
		u.Layer = active
		u.HasLayer = true
	}

	// Milestone phrases take priority over any residual percent text:
	// they are discrete phase transitions.
	for _, ms := range milestones {
		if strings.Contains(lower, ms.phrase) {
			u.Kind = KindMilestone
			u.Status = ms.status
			u.HasStatus = true
			u.Progress = ms.percent
			u.HasProgress = true
			u.Terminal = ms.terminal
			if ms.terminal {
				u.Message = "Download completed successfully"
			}
			return u
		}
	}

	// Per-layer percent lines, rescaled into 5-90 so the bar keeps room
	// for initialization below and verification/install above.
	if strings.Contains(lower, "pulling") && strings.Contains(trimmed, "%") {
		if m := p.percentRe.FindStringSubmatch(trimmed); m != nil {
			raw, err := strconv.Atoi(m[1])
			if err == nil {
				u.Kind = KindLayerProgress
				u.RawPercent = raw
				u.HasRawPercent = true
				u.Progress = 5 + raw*85/100
				u.HasProgress = true
				if raw >= 99 && u.HasLayer {
					u.LayerDone = true
				}
			}
		}
	}

	// Size info, e.g. "4.1 GB/4.1 GB".
	if m := p.sizeRe.FindStringSubmatch(trimmed); m != nil {
		u.Completed = m[1] + " " + m[2]
		u.Total = m[3] + " " + m[4]
		u.HasSize = true
	}

	// Transfer speed, e.g. "125 MB/s".
	if m := p.speedRe.FindStringSubmatch(trimmed); m != nil {
		u.Speed = m[1] + " " + m[2]
		u.HasSpeed = true
	}

	if u.Kind == KindLayerProgress {
		return u
	}

	// Keyword fallback for lines that matched nothing above.
	switch {
	case strings.Contains(lower, "pulling"):
		u.Kind = KindKeyword
		u.Status = "pulling"
		u.HasStatus = true
	case strings.Contains(lower, "verifying"):
		u.Kind = KindKeyword
		u.Status = "verifying"
		u.HasStatus = true
		u.Progress = 90
		u.HasProgress = true
	case strings.Contains(lower, "complete"):
		u.Kind = KindKeyword
		u.Status = "success"
		u.HasStatus = true
		u.Progress = 100
		u.HasProgress = true
	case strings.Contains(lower, "error"), strings.Contains(lower, "failed"):
		u.Kind = KindKeyword
		u.Status = "error"
		u.HasStatus = true
		u.Failed = true
	}

	return u
}
