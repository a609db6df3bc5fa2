package controller

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/decision"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/flow"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/llm"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/logging"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/metrics"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/policy"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/prompt"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/rules"
)

const DefaultInterval = 2 * time.Second

// Failure stages, also used as metric labels.
const (
	StagePrompt    = "prompt"
	StageInference = "inference"
	StageNormalize = "normalize"
	StageIntent    = "intent"
	StageInstall   = "install"
)

// FlowSource yields the next flow to classify.
type FlowSource interface {
	Next() flow.Record
}

// Observer is told about every decision and every installed intent.
type Observer interface {
	OnDecision(rec flow.Record, d decision.Decision)
	OnIntent(in rules.Intent, ack rules.Ack)
}

// Sleeper pauses between iterations and returns early with ctx.Err() when
// ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the real Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Options struct {
	Flows      FlowSource
	Prompts    prompt.Store
	Invoker    llm.Invoker
	Normalizer *decision.Normalizer
	Guard      *policy.Guard
	Builder    rules.Builder
	Installer  rules.Installer
	Observer   Observer
	Metrics    *metrics.Handler
	Sleep      Sleeper
	Interval   time.Duration
}

// Outcome describes one iteration. Stage and Err are set when the iteration
// failed open; Vetoed names the policy check that refused a drop.
type Outcome struct {
	Flow     flow.Record
	Decision decision.Decision
	Intent   *rules.Intent
	Ack      *rules.Ack
	Vetoed   string
	Stage    string
	Err      error
}

type Stats struct {
	Iterations uint64 `json:"iterations"`
	Drops      uint64 `json:"drops"`
	Vetoes     uint64 `json:"vetoes"`
	Failures   uint64 `json:"failures"`
	Installs   uint64 `json:"installs"`
}

// Controller runs the classify-and-mitigate loop. One flow is fully handled
// before the next is generated.
type Controller struct {
	opts Options

	iterations atomic.Uint64
	drops      atomic.Uint64
	vetoes     atomic.Uint64
	failures   atomic.Uint64
	installs   atomic.Uint64
}

func New(opts Options) (*Controller, error) {
	if opts.Flows == nil || opts.Invoker == nil || opts.Installer == nil {
		return nil, errors.New("controller: flows, invoker and installer are required")
	}
	if opts.Prompts == nil {
		opts.Prompts = prompt.Static{Template: prompt.Default()}
	}
	if opts.Normalizer == nil {
		opts.Normalizer = decision.NewNormalizer()
	}
	if opts.Builder == (rules.Builder{}) {
		opts.Builder = rules.DefaultBuilder()
	}
	if opts.Sleep == nil {
		opts.Sleep = ContextSleep
	}
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	return &Controller{opts: opts}, nil
}

// Step processes one flow. Every failure degrades to no action and is
// reported in the Outcome; Step never returns an error.
func (c *Controller) Step(ctx context.Context) Outcome {
	c.iterations.Add(1)
	c.opts.Metrics.IncFlows()

	rec := c.opts.Flows.Next()
	out := Outcome{Flow: rec, Decision: decision.None()}
	logging.Info("[CONTROLLER] flow_id=%d generated: %s", rec.FlowID, rec)

	tpl, err := c.opts.Prompts.Load()
	if err != nil {
		return c.failOpen(out, StagePrompt, err)
	}

	raw, err := c.opts.Invoker.Invoke(ctx, tpl, rec)
	if err != nil {
		return c.failOpen(out, StageInference, err)
	}
	logging.Debug("[CONTROLLER] flow_id=%d raw response: %s", rec.FlowID, raw)

	d, err := c.opts.Normalizer.Normalize(raw)
	if err != nil {
		return c.failOpen(out, StageNormalize, err)
	}

	if d.IsDrop() {
		if ok, reason := c.opts.Guard.Allow(rec, d); !ok {
			logging.Warn("[CONTROLLER] flow_id=%d drop of %s vetoed: %s", rec.FlowID, d.TargetIP, reason)
			c.vetoes.Add(1)
			c.opts.Metrics.IncRuleVetoed(reason)
			out.Vetoed = reason
			d = decision.Decision{Detected: d.Detected, Action: decision.ActionNone}
		}
	}

	if !d.IsDrop() {
		out.Decision = d
		c.recordDecision(rec, d)
		return out
	}

	intent, err := c.opts.Builder.Drop(rec.FlowID, d.TargetIP)
	if err != nil {
		return c.failOpen(out, StageIntent, err)
	}

	out.Decision = d
	out.Intent = &intent
	c.recordDecision(rec, d)
	c.drops.Add(1)

	ack, err := c.opts.Installer.Apply(ctx, intent)
	if ack.Installer == "" {
		if err == nil {
			err = errors.New("installer returned an empty ack")
		}
		logging.Mitigation(rec.FlowID, d.TargetIP, intent.TableName, intent.ActionName, "failed")
		return c.fail(out, StageInstall, err)
	}
	if err != nil {
		logging.Warn("[CONTROLLER] flow_id=%d partially installed: %v", rec.FlowID, err)
		out.Stage, out.Err = StageInstall, err
	}

	out.Ack = &ack
	c.installs.Add(1)
	c.opts.Metrics.IncRuleApplied(ack.Installer)
	logging.Mitigation(rec.FlowID, d.TargetIP, intent.TableName, intent.ActionName, ack.Installer)
	if c.opts.Observer != nil {
		c.opts.Observer.OnIntent(intent, ack)
	}
	return out
}

// failOpen handles failures that happen before a decision exists: the flow
// is recorded with the None decision.
func (c *Controller) failOpen(out Outcome, stage string, err error) Outcome {
	c.recordDecision(out.Flow, out.Decision)
	return c.fail(out, stage, err)
}

func (c *Controller) fail(out Outcome, stage string, err error) Outcome {
	c.failures.Add(1)
	c.opts.Metrics.IncFailure(stage)
	logging.Error("[CONTROLLER] flow_id=%d %s failed, no action taken: %v", out.Flow.FlowID, stage, err)
	out.Stage, out.Err = stage, err
	return out
}

func (c *Controller) recordDecision(rec flow.Record, d decision.Decision) {
	c.opts.Metrics.IncDecision(string(d.Action))
	logging.Info("[CONTROLLER] flow_id=%d decision: %s", rec.FlowID, d)
	if c.opts.Observer != nil {
		c.opts.Observer.OnDecision(rec, d)
	}
}

// Run loops until ctx is cancelled and then returns ctx.Err().
func (c *Controller) Run(ctx context.Context) error {
	logging.Info("[CONTROLLER] Control loop started, interval %s", c.opts.Interval)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.Step(ctx)
		if err := c.opts.Sleep(ctx, c.opts.Interval); err != nil {
			logging.Info("[CONTROLLER] Control loop stopped after %d iterations", c.iterations.Load())
			return err
		}
	}
}

// RunN runs exactly n iterations unless ctx is cancelled first. There is no
// pause after the last iteration.
func (c *Controller) RunN(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.Step(ctx)
		if i == n-1 {
			break
		}
		if err := c.opts.Sleep(ctx, c.opts.Interval); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) Stats() Stats {
	return Stats{
		Iterations: c.iterations.Load(),
		Drops:      c.drops.Load(),
		Vetoes:     c.vetoes.Load(),
		Failures:   c.failures.Load(),
		Installs:   c.installs.Load(),
	}
}
