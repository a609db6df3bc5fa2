package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrNotStructured = errors.New("response is not a JSON object")
	ErrFieldType     = errors.New("response field has the wrong type")
	ErrMissingTarget = errors.New("drop decision without target_ip")
	ErrInvalidTarget = errors.New("target_ip is not an IP address")
)

// NormalizeError reports which stage rejected a response and the text it saw.
type NormalizeError struct {
	Stage   string
	Cleaned string
	Err     error
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize %s: %v (cleaned=%q)", e.Stage, e.Err, e.Cleaned)
}

func (e *NormalizeError) Unwrap() error {
	return e.Err
}

// Stage is one text cleanup step applied before parsing.
type Stage struct {
	Name  string
	Apply func(string) string
}

// Raw mirrors the fields the classifier is asked to emit. Pointers distinguish
// an absent field from its zero value.
type Raw struct {
	AnomalyDetected *bool
	Action          *string
	TargetIP        *string
}

// Normalizer turns raw backend text into a Decision through a fixed sequence
// of cleanup stages, a parse step and a mapping step.
type Normalizer struct {
	stages []Stage
}

// DefaultStages strips code fences, collapses newlines and trims whitespace.
func DefaultStages() []Stage {
	return []Stage{
		{Name: "strip_fences", Apply: StripFences},
		{Name: "collapse_newlines", Apply: CollapseNewlines},
		{Name: "trim_space", Apply: strings.TrimSpace},
	}
}

func NewNormalizer(stages ...Stage) *Normalizer {
	if len(stages) == 0 {
		stages = DefaultStages()
	}
	return &Normalizer{stages: stages}
}

// Clean runs the cleanup stages in order.
func (n *Normalizer) Clean(raw string) string {
	text := raw
	for _, s := range n.stages {
		text = s.Apply(text)
	}
	return text
}

// Normalize cleans, parses and maps raw. On failure the decision is None and
// the error is a *NormalizeError.
func (n *Normalizer) Normalize(raw string) (Decision, error) {
	cleaned := n.Clean(raw)

	r, err := Parse(cleaned)
	if err != nil {
		return None(), &NormalizeError{Stage: "parse", Cleaned: cleaned, Err: err}
	}

	d, err := Map(r)
	if err != nil {
		return None(), &NormalizeError{Stage: "map", Cleaned: cleaned, Err: err}
	}
	return d, nil
}

const fence = "```"

// StripFences removes a leading ``` marker with its optional language tag and
// a trailing ``` marker. Text without fences is returned trimmed.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, fence) {
		s = strings.TrimPrefix(s, fence)
		s = strings.TrimLeftFunc(s, isTagRune)
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, fence)
	return s
}

func isTagRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_'
}

// CollapseNewlines replaces every line break with a single space.
func CollapseNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}

// Parse decodes a cleaned response. Absent fields stay nil; a field present
// with the wrong JSON type is ErrFieldType.
func Parse(cleaned string) (Raw, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil || fields == nil {
		return Raw{}, ErrNotStructured
	}

	var r Raw
	if err := decodeField(fields, "anomaly_detected", &r.AnomalyDetected); err != nil {
		return Raw{}, err
	}
	if err := decodeField(fields, "action", &r.Action); err != nil {
		return Raw{}, err
	}
	if err := decodeField(fields, "target_ip", &r.TargetIP); err != nil {
		return Raw{}, err
	}
	return r, nil
}

func decodeField[T any](fields map[string]json.RawMessage, name string, dst **T) error {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %s", ErrFieldType, name)
	}
	*dst = &v
	return nil
}

// Map applies the gating rule: drop only when an anomaly is detected and the
// action is exactly "drop". A drop needs an IP literal as target.
func Map(r Raw) (Decision, error) {
	detected := r.AnomalyDetected != nil && *r.AnomalyDetected
	if !detected || r.Action == nil || *r.Action != string(ActionDrop) {
		return Decision{Detected: detected, Action: ActionNone}, nil
	}

	if r.TargetIP == nil || strings.TrimSpace(*r.TargetIP) == "" {
		return None(), ErrMissingTarget
	}
	target := strings.TrimSpace(*r.TargetIP)
	if net.ParseIP(target) == nil {
		return None(), fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return Decision{Detected: true, Action: ActionDrop, TargetIP: target}, nil
}
