package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/logging"
)

// Publisher is the subset of *nats.Conn used by NATSInstaller.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// NATSInstaller publishes intents as JSON on a subject, for a data-plane
// agent that owns the real switch runtime.
type NATSInstaller struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
}

// NewNATSInstaller connects to url and publishes on subject.
func NewNATSInstaller(url, subject string) (*NATSInstaller, error) {
	nc, err := nats.Connect(url, nats.Name("flowguard"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	logging.Info("[RULES] Connected to NATS server at %s, subject %s", url, subject)
	return &NATSInstaller{pub: nc, conn: nc, subject: subject}, nil
}

// NewNATSInstallerWithPublisher wraps an existing publisher.
func NewNATSInstallerWithPublisher(pub Publisher, subject string) *NATSInstaller {
	return &NATSInstaller{pub: pub, subject: subject}
}

func (n *NATSInstaller) Name() string {
	return "nats"
}

func (n *NATSInstaller) Apply(ctx context.Context, in Intent) (Ack, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return Ack{}, err
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		return Ack{}, fmt.Errorf("publishing intent for flow %d: %w", in.FlowID, err)
	}
	if err := n.pub.FlushWithContext(ctx); err != nil {
		return Ack{}, fmt.Errorf("flushing intent for flow %d: %w", in.FlowID, err)
	}
	return Ack{Installer: n.Name(), Reference: n.subject, AppliedAt: time.Now().UTC()}, nil
}

// Close drains and closes the connection opened by NewNATSInstaller.
func (n *NATSInstaller) Close() error {
	if n.conn == nil {
		return nil
	}
	err := n.conn.Drain()
	logging.Info("[RULES] NATS connection closed")
	return err
}
