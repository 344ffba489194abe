package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-project/drover/internal/progress"
)

func TestNewProgressEventCarriesSnapshot(t *testing.T) {
	snap := progress.State{
		Downloading: true,
		Model:       "llama3:8b",
		Status:      "Downloading file: a1b2c3d4... (47%)",
		Progress:    47,
	}

	e := NewProgressEvent(snap)
	assert.Equal(t, EventTypeDownloadProgress, e.Type)
	assert.Equal(t, "llama3:8b", e.Model)
	assert.Equal(t, snap.Status, e.Status)
	require.NotNil(t, e.Progress)
	assert.Equal(t, 47, e.Progress.Progress)
	assert.NotZero(t, e.Timestamp)
}

func TestEventStringIsJSON(t *testing.T) {
	e := NewErrorEvent("llama3:8b", "pull failed")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(e.String()), &decoded))
	assert.Equal(t, string(EventTypeDownloadError), decoded["type"])
	assert.Equal(t, "pull failed", decoded["message"])
}

func TestHeartbeatEventOmitsProgress(t *testing.T) {
	e := NewHeartbeatEvent(3)
	assert.Equal(t, 3, e.Connections)
	assert.Nil(t, e.Progress)
	assert.NotContains(t, e.String(), "progress")
}
