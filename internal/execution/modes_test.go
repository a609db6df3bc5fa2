package execution

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/config"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/rules"
)

func TestEnforceModeInstalls(t *testing.T) {
	var audit bytes.Buffer
	h := NewExecutionModeHandler(&config.ExecutionModeConfig{Mode: ModeEnforce}, rules.NewLogInstaller(&audit))

	in, err := rules.DefaultBuilder().Drop(7, "10.0.0.1")
	require.NoError(t, err)

	ack, err := h.Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "log", ack.Installer)
	assert.Contains(t, audit.String(), `"flow_id":7`)
	assert.Equal(t, "log", h.Name())
}

func TestMonitorModeOnlyLogs(t *testing.T) {
	var audit bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "monitor", "intents.log")
	h := NewExecutionModeHandler(&config.ExecutionModeConfig{Mode: ModeMonitor, MonitorLogFile: logFile}, rules.NewLogInstaller(&audit))

	in, err := rules.DefaultBuilder().Drop(3, "10.0.0.1")
	require.NoError(t, err)

	ack, err := h.Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, ModeMonitor, ack.Installer)
	assert.Empty(t, audit.String())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"hdr.ipv4.srcAddr":"10.0.0.1"`)

	info := h.GetModeInfo()
	assert.Equal(t, ModeMonitor, info["mode"])
	assert.Equal(t, "log", info["installer"])
}

func TestUnknownModeFallsBackToEnforce(t *testing.T) {
	h := NewExecutionModeHandler(&config.ExecutionModeConfig{Mode: ""}, rules.NewLogInstaller(nil))
	assert.Equal(t, ModeEnforce, h.Mode())
}
