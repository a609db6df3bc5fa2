package rules

import (
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	DefaultTable     = "acl_table"
	DropAction       = "_drop"
	SourceAddressKey = "hdr.ipv4.srcAddr"
)

var ErrMalformedIntent = errors.New("malformed rule intent")

// Intent is a table write for the data plane: match on one source address
// and apply an action. It is built once per accepted drop and not modified.
type Intent struct {
	FlowID       uint64            `json:"flow_id"`
	TableName    string            `json:"table_name"`
	MatchFields  map[string]string `json:"match_fields"`
	ActionName   string            `json:"action_name"`
	ActionParams map[string]string `json:"action_params"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Ack confirms that an installer accepted an intent.
type Ack struct {
	Installer string    `json:"installer"`
	Reference string    `json:"reference,omitempty"`
	AppliedAt time.Time `json:"applied_at"`
}

// Builder holds the table layout used to turn a drop target into an Intent.
type Builder struct {
	Table    string
	Action   string
	MatchKey string
}

func DefaultBuilder() Builder {
	return Builder{Table: DefaultTable, Action: DropAction, MatchKey: SourceAddressKey}
}

// Drop builds the intent that blocks targetIP.
func (b Builder) Drop(flowID uint64, targetIP string) (Intent, error) {
	in := Intent{
		FlowID:       flowID,
		TableName:    b.Table,
		MatchFields:  map[string]string{b.MatchKey: targetIP},
		ActionName:   b.Action,
		ActionParams: map[string]string{},
		CreatedAt:    time.Now().UTC(),
	}
	if err := in.Validate(b.MatchKey); err != nil {
		return Intent{}, err
	}
	return in, nil
}

// Validate checks that matchKey holds an IP address and the table and action
// are named.
func (in Intent) Validate(matchKey string) error {
	if in.TableName == "" || in.ActionName == "" {
		return fmt.Errorf("%w: table and action are required", ErrMalformedIntent)
	}
	target, ok := in.MatchFields[matchKey]
	if !ok || net.ParseIP(target) == nil {
		return fmt.Errorf("%w: %s=%q", ErrMalformedIntent, matchKey, target)
	}
	return nil
}

// Target returns the first match value, which for drop intents is the
// blocked address.
func (in Intent) Target() string {
	for _, v := range in.MatchFields {
		return v
	}
	return ""
}
