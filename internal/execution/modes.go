package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/config"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/logging"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/rules"
)

const (
	ModeEnforce = "enforce"
	ModeMonitor = "monitor"
)

// ExecutionModeHandler sits in front of the installer chain. In enforce mode
// intents go through; in monitor mode they are only written to the monitor
// log so operators can review what would have been dropped.
type ExecutionModeHandler struct {
	mu        sync.Mutex
	config    *config.ExecutionModeConfig
	installer rules.Installer
}

func NewExecutionModeHandler(cfg *config.ExecutionModeConfig, installer rules.Installer) *ExecutionModeHandler {
	return &ExecutionModeHandler{
		config:    cfg,
		installer: installer,
	}
}

func (e *ExecutionModeHandler) Name() string {
	if e.Mode() == ModeMonitor {
		return ModeMonitor
	}
	return e.installer.Name()
}

func (e *ExecutionModeHandler) Mode() string {
	if e.config.Mode == ModeMonitor {
		return ModeMonitor
	}
	return ModeEnforce
}

// Apply installs in or, in monitor mode, records it without installing.
func (e *ExecutionModeHandler) Apply(ctx context.Context, in rules.Intent) (rules.Ack, error) {
	if e.Mode() == ModeEnforce {
		return e.installer.Apply(ctx, in)
	}

	logging.Info("[MONITOR] flow_id=%d | Would install %s %s on %s", in.FlowID, in.ActionName, in.Target(), in.TableName)
	if err := e.logMonitoredIntent(in); err != nil {
		return rules.Ack{}, err
	}
	return rules.Ack{Installer: ModeMonitor, Reference: e.config.MonitorLogFile, AppliedAt: time.Now().UTC()}, nil
}

// logMonitoredIntent appends the intent to the monitor log file
func (e *ExecutionModeHandler) logMonitoredIntent(in rules.Intent) error {
	if e.config.MonitorLogFile == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(e.config.MonitorLogFile), 0755); err != nil {
		return err
	}

	file, err := os.OpenFile(e.config.MonitorLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logging.Error("Error opening monitor log: %v", err)
		return err
	}
	defer file.Close()

	line, err := json.Marshal(in)
	if err != nil {
		return err
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	_, err = fmt.Fprintf(file, "[%s] %s\n", timestamp, line)
	return err
}

// GetModeInfo returns information about current execution mode
func (e *ExecutionModeHandler) GetModeInfo() map[string]interface{} {
	return map[string]interface{}{
		"mode":             e.Mode(),
		"installer":        e.installer.Name(),
		"monitor_log_file": e.config.MonitorLogFile,
	}
}
