package controller

import (
	"sync"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/decision"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/flow"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/rules"
)

type DecisionEntry struct {
	Flow     flow.Record       `json:"flow"`
	Decision decision.Decision `json:"decision"`
}

type IntentEntry struct {
	Intent rules.Intent `json:"intent"`
	Ack    rules.Ack    `json:"ack"`
}

// Recorder is an in-memory Observer that keeps the most recent decisions and
// intents. It is safe for concurrent readers.
type Recorder struct {
	mu        sync.RWMutex
	capacity  int
	decisions []DecisionEntry
	intents   []IntentEntry
}

// NewRecorder keeps at most capacity entries of each kind; zero means
// unbounded.
func NewRecorder(capacity int) *Recorder {
	return &Recorder{capacity: capacity}
}

func (r *Recorder) OnDecision(rec flow.Record, d decision.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = appendBounded(r.decisions, DecisionEntry{Flow: rec, Decision: d}, r.capacity)
}

func (r *Recorder) OnIntent(in rules.Intent, ack rules.Ack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = appendBounded(r.intents, IntentEntry{Intent: in, Ack: ack}, r.capacity)
}

// Decisions returns the recorded decisions, oldest first.
func (r *Recorder) Decisions() []DecisionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]DecisionEntry(nil), r.decisions...)
}

// Intents returns the recorded intents, oldest first.
func (r *Recorder) Intents() []IntentEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]IntentEntry(nil), r.intents...)
}

// RecentIntents returns up to limit intents, newest first.
func (r *Recorder) RecentIntents(limit int) []IntentEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.intents)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]IntentEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.intents[i])
	}
	return out
}

func appendBounded[T any](s []T, v T, capacity int) []T {
	s = append(s, v)
	if capacity > 0 && len(s) > capacity {
		s = s[len(s)-capacity:]
	}
	return s
}

// Observers notifies each observer in order.
type Observers []Observer

func (o Observers) OnDecision(rec flow.Record, d decision.Decision) {
	for _, obs := range o {
		obs.OnDecision(rec, d)
	}
}

func (o Observers) OnIntent(in rules.Intent, ack rules.Ack) {
	for _, obs := range o {
		obs.OnIntent(in, ack)
	}
}
