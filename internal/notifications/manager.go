package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/config"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/decision"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/flow"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/logging"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/rules"
)

const queueSize = 64

// Notification describes one installed mitigation.
type Notification struct {
	FlowID    uint64
	TargetIP  string
	Table     string
	Action    string
	Installer string
	Reference string
	Timestamp time.Time
}

// NotificationProvider delivers alerts to one channel.
type NotificationProvider interface {
	Name() string
	IsEnabled() bool
	Send(ctx context.Context, n *Notification) error
}

// Manager fans installed intents out to every enabled provider. Delivery
// runs on a background worker so a slow channel never stalls the control
// loop; alerts are dropped when the queue is full.
type Manager struct {
	providers []NotificationProvider
	queue     chan *Notification
	done      chan struct{}
	closeOnce sync.Once
	timeout   time.Duration
}

func NewManager(cfg config.NotificationsConfig) *Manager {
	var providers []NotificationProvider

	if cfg.Slack.Enabled {
		slack := cfg.Slack
		providers = append(providers, NewSlackProvider(&slack))
		logging.Info("[NOTIFICATIONS] ✓ Slack provider initialized")
	}

	if len(providers) == 0 {
		logging.Info("[NOTIFICATIONS] No notification providers enabled")
	}

	return NewManagerWithProviders(time.Duration(cfg.Slack.TimeoutSeconds)*time.Second, providers...)
}

// NewManagerWithProviders starts a manager over the given providers. Each
// delivery round is bounded by timeout; zero means no bound.
func NewManagerWithProviders(timeout time.Duration, providers ...NotificationProvider) *Manager {
	m := &Manager{
		providers: providers,
		queue:     make(chan *Notification, queueSize),
		done:      make(chan struct{}),
		timeout:   timeout,
	}
	go m.worker()
	return m
}

// OnDecision is a no-op; only installed intents raise alerts.
func (m *Manager) OnDecision(flow.Record, decision.Decision) {}

func (m *Manager) OnIntent(in rules.Intent, ack rules.Ack) {
	if len(m.providers) == 0 {
		return
	}
	n := &Notification{
		FlowID:    in.FlowID,
		TargetIP:  in.Target(),
		Table:     in.TableName,
		Action:    in.ActionName,
		Installer: ack.Installer,
		Reference: ack.Reference,
		Timestamp: ack.AppliedAt,
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	select {
	case m.queue <- n:
	default:
		logging.Warn("[NOTIFICATIONS] Queue full, alert for flow_id=%d dropped", in.FlowID)
	}
}

func (m *Manager) worker() {
	defer close(m.done)
	for n := range m.queue {
		m.Send(context.Background(), n)
	}
}

// Send delivers n to all enabled providers in parallel and waits for them.
func (m *Manager) Send(ctx context.Context, n *Notification) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	var wg sync.WaitGroup
	var failed int
	var mu sync.Mutex

	for _, provider := range m.providers {
		if !provider.IsEnabled() {
			continue
		}

		wg.Add(1)
		go func(p NotificationProvider) {
			defer wg.Done()
			if err := p.Send(ctx, n); err != nil {
				logging.Error("[NOTIFICATIONS] Error from %s provider: %v", p.Name(), err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(provider)
	}

	wg.Wait()

	if failed > 0 {
		logging.Warn("[NOTIFICATIONS] %d provider(s) failed for flow_id=%d", failed, n.FlowID)
	}
}

// Close waits for queued alerts to be delivered. OnIntent must not be called
// after Close.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.queue)
		<-m.done
	})
}

// GetProviderStatus returns the enabled state of every provider.
func (m *Manager) GetProviderStatus() map[string]bool {
	status := make(map[string]bool, len(m.providers))
	for _, provider := range m.providers {
		status[provider.Name()] = provider.IsEnabled()
	}
	return status
}
