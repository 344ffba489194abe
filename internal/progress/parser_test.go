package progress

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLayerIdentification(t *testing.T) {
	p := NewParser()

	u := p.Parse("pulling a1b2c3d4e5f6... 10%", "")
	require.True(t, u.HasLayer)
	assert.Equal(t, "a1b2c3d4e5f6", u.Layer)

	// Layer id persists through the caller's currentLayer argument.
	u = p.Parse("pulling 42%", "a1b2c3d4e5f6")
	require.True(t, u.HasLayer)
	assert.Equal(t, "a1b2c3d4e5f6", u.Layer)
}

func TestParseManifestIsNotALayer(t *testing.T) {
	p := NewParser()

	u := p.Parse("pulling manifest...", "")
	assert.False(t, u.HasLayer)
	assert.Equal(t, KindMilestone, u.Kind)
}

func TestParseMilestones(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name     string
		line     string
		status   string
		progress int
		terminal bool
	}{
		{"manifest", "pulling manifest", "Initializing download...", 2, false},
		{"verify", "verifying sha256 digest", "Verifying download...", 95, false},
		{"write", "writing manifest", "Installing model...", 98, false},
		{"success", "success", "Download complete!", 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := p.Parse(tt.line, "")
			assert.Equal(t, KindMilestone, u.Kind)
			require.True(t, u.HasStatus)
			assert.Equal(t, tt.status, u.Status)
			require.True(t, u.HasProgress)
			assert.Equal(t, tt.progress, u.Progress)
			assert.Equal(t, tt.terminal, u.Terminal)
		})
	}
}

func TestParseMilestonePriorityOverPercent(t *testing.T) {
	p := NewParser()

	// A stray percent must not override the discrete phase transition.
	u := p.Parse("success 45%", "")
	assert.Equal(t, KindMilestone, u.Kind)
	assert.Equal(t, "Download complete!", u.Status)
	assert.Equal(t, 100, u.Progress)
	assert.True(t, u.Terminal)
}

func TestParseRescale(t *testing.T) {
	p := NewParser()

	tests := []struct {
		raw    int
		scaled int
	}{
		{0, 5},
		{50, 47},
		{100, 90},
	}

	for _, tt := range tests {
		u := p.Parse(fmt.Sprintf("pulling a1b2c3... %d%%", tt.raw), "")
		require.True(t, u.HasProgress, "raw=%d", tt.raw)
		assert.Equal(t, tt.scaled, u.Progress, "raw=%d", tt.raw)
		assert.Equal(t, tt.raw, u.RawPercent)
	}
}

func TestParseLayerDone(t *testing.T) {
	p := NewParser()

	u := p.Parse("pulling a1b2c3... 99%", "")
	assert.True(t, u.LayerDone)

	u = p.Parse("pulling a1b2c3... 98%", "")
	assert.False(t, u.LayerDone)

	// No layer in scope means nothing to mark complete.
	u = p.Parse("pulling 100%", "")
	assert.False(t, u.LayerDone)
}

func TestParseSizeAndSpeed(t *testing.T) {
	p := NewParser()

	u := p.Parse("pulling a1b2c3...  42% ▕████      ▏ 1.7 GB/4.1 GB  125 MB/s", "")
	require.True(t, u.HasSize)
	assert.Equal(t, "1.7 GB", u.Completed)
	assert.Equal(t, "4.1 GB", u.Total)
	require.True(t, u.HasSpeed)
	assert.Equal(t, "125 MB/s", u.Speed)
}

func TestParseKeywordFallback(t *testing.T) {
	p := NewParser()

	u := p.Parse("pulling model data", "")
	assert.Equal(t, KindKeyword, u.Kind)
	assert.Equal(t, "pulling", u.Status)
	assert.False(t, u.HasProgress)

	u = p.Parse("verifying layers", "")
	assert.Equal(t, "verifying", u.Status)
	assert.Equal(t, 90, u.Progress)

	u = p.Parse("transfer failed: connection reset", "")
	assert.Equal(t, "error", u.Status)
	assert.True(t, u.Failed)
}

func TestParseUnclassifiedLine(t *testing.T) {
	p := NewParser()

	u := p.Parse("  some unrelated output  ", "")
	assert.Equal(t, KindInfo, u.Kind)
	assert.Equal(t, "some unrelated output", u.Message)
	assert.False(t, u.HasStatus)
	assert.False(t, u.HasProgress)
}
