package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/logging"
)

// Installer applies a rule intent somewhere: a log, a database, a message bus
// or a data-plane agent.
type Installer interface {
	Apply(ctx context.Context, in Intent) (Ack, error)
	Name() string
}

// LogInstaller is the simulated table write. It never touches a switch; it
// records the intent in the process log and, when audit is set, appends one
// JSON line per intent to it.
type LogInstaller struct {
	mu    sync.Mutex
	audit io.Writer
}

func NewLogInstaller(audit io.Writer) *LogInstaller {
	return &LogInstaller{audit: audit}
}

func (l *LogInstaller) Name() string {
	return "log"
}

func (l *LogInstaller) Apply(ctx context.Context, in Intent) (Ack, error) {
	logging.Info("[RULES] table_add %s %s %s => %s",
		in.TableName, formatFields(in.MatchFields), in.ActionName, formatFields(in.ActionParams))

	if l.audit != nil {
		line, err := json.Marshal(in)
		if err != nil {
			return Ack{}, err
		}
		l.mu.Lock()
		_, err = fmt.Fprintf(l.audit, "%s\n", line)
		l.mu.Unlock()
		if err != nil {
			return Ack{}, fmt.Errorf("writing audit line: %w", err)
		}
	}

	return Ack{
		Installer: l.Name(),
		Reference: fmt.Sprintf("flow-%d", in.FlowID),
		AppliedAt: time.Now().UTC(),
	}, nil
}

// formatFields renders a map as sorted key=value pairs.
func formatFields(m map[string]string) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, ",")
}
