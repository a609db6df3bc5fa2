package rules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/config"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/logging"
)

// Chain applies an intent to several installers one after another. Writes
// are serialized so intents reach every sink in the same order.
type Chain struct {
	mu         sync.Mutex
	installers []Installer
	closers    []io.Closer
	audit      *SQLiteAudit
}

func NewChain(installers ...Installer) *Chain {
	c := &Chain{}
	for _, in := range installers {
		c.add(in)
	}
	return c
}

func (c *Chain) add(in Installer) {
	c.installers = append(c.installers, in)
	if closer, ok := in.(io.Closer); ok {
		c.closers = append(c.closers, closer)
	}
	if a, ok := in.(*SQLiteAudit); ok {
		c.audit = a
	}
}

func (c *Chain) Name() string {
	return "chain"
}

// Apply runs every installer even when an earlier one fails. It returns the
// ack of the first installer that succeeded and all errors joined.
func (c *Chain) Apply(ctx context.Context, in Intent) (Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		first Ack
		found bool
		errs  []error
	)
	for _, inst := range c.installers {
		ack, err := inst.Apply(ctx, in)
		if err != nil {
			logging.Error("[RULES] Installer %s failed for flow %d: %v", inst.Name(), in.FlowID, err)
			errs = append(errs, fmt.Errorf("%s: %w", inst.Name(), err))
			continue
		}
		if !found {
			first, found = ack, true
		}
	}

	if !found {
		return Ack{}, errors.Join(errs...)
	}
	return first, errors.Join(errs...)
}

// Installers lists the configured installers in application order.
func (c *Chain) Installers() []Installer {
	return c.installers
}

// Audit returns the SQLite audit sink when one is configured.
func (c *Chain) Audit() *SQLiteAudit {
	return c.audit
}

func (c *Chain) Close() error {
	var errs []error
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build assembles the installers named in cfg.Sinks, in that order.
func Build(cfg config.RulesConfig) (*Chain, error) {
	c := NewChain()

	for _, sink := range cfg.Sinks {
		switch sink {
		case "log":
			var audit io.Writer
			if cfg.AuditFile != "" {
				f, err := openAuditFile(cfg.AuditFile)
				if err != nil {
					c.Close()
					return nil, err
				}
				audit = f
				c.closers = append(c.closers, f)
			}
			c.add(NewLogInstaller(audit))
		case "sqlite":
			a, err := NewSQLiteAudit(cfg.SQLite.Path)
			if err != nil {
				c.Close()
				return nil, err
			}
			c.add(a)
		case "nats":
			n, err := NewNATSInstaller(cfg.NATS.URL, cfg.NATS.Subject)
			if err != nil {
				c.Close()
				return nil, err
			}
			c.add(n)
		case "webhook":
			wh := cfg.Webhook
			c.add(NewWebhookInstaller(&wh))
		default:
			c.Close()
			return nil, fmt.Errorf("unknown rule sink %q", sink)
		}
		logging.Info("[RULES] ✓ %s sink initialized", sink)
	}

	if len(c.installers) == 0 {
		c.add(NewLogInstaller(nil))
	}
	return c, nil
}

func openAuditFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening audit file: %w", err)
	}
	return f, nil
}
