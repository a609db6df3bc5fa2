package decision

import "fmt"

type Action string

const (
	ActionNone Action = "none"
	ActionDrop Action = "drop"
)

// Decision is the normalized classifier verdict for one flow. A drop always
// carries a target and Detected=false always means ActionNone.
type Decision struct {
	Detected bool   `json:"detected"`
	Action   Action `json:"action"`
	TargetIP string `json:"target_ip,omitempty"`
}

// None is the fail-open decision used whenever a verdict cannot be trusted.
func None() Decision {
	return Decision{Action: ActionNone}
}

func (d Decision) IsDrop() bool {
	return d.Action == ActionDrop
}

func (d Decision) String() string {
	if d.IsDrop() {
		return fmt.Sprintf("detected=%t action=%s target=%s", d.Detected, d.Action, d.TargetIP)
	}
	return fmt.Sprintf("detected=%t action=%s", d.Detected, d.Action)
}
