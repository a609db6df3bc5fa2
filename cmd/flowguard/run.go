package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/api"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/controller"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/decision"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/execution"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/flow"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/llm"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/logging"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/metrics"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/notifications"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/policy"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/prompt"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/rules"
)

const recorderCapacity = 1000

type runFlags struct {
	iterations int
	provider   string
	mode       string
	api        bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the control loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runController(f)
		},
	}
	cmd.Flags().IntVarP(&f.iterations, "iterations", "n", 0, "stop after n flows (0 = config value, run until stopped if unset)")
	cmd.Flags().StringVar(&f.provider, "provider", "", "override backend provider (hosted, local, anthropic)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "override execution mode (enforce, monitor)")
	cmd.Flags().BoolVar(&f.api, "api", false, "enable the status API")
	return cmd
}

func runController(f runFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if f.provider != "" {
		cfg.OverrideProvider(f.provider)
	}
	if f.mode != "" {
		cfg.ExecutionMode.Mode = f.mode
	}
	if f.api {
		cfg.API.Enabled = true
	}
	if f.iterations > 0 {
		cfg.Controller.MaxIterations = f.iterations
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := logging.Init(cfg.System.LogDir, &cfg.System.LogRotation, cfg.System.LogLevel, cfg.System.Debug); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info("[MAIN] FlowGuard %s starting", version)

	backend, err := llm.New(ctx, cfg.Backend)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}

	m := metrics.New()
	client := llm.NewClient(backend, cfg.Backend.Timeout(),
		llm.WithCache(cfg.Backend.CacheTTL()),
		llm.WithMetrics(m),
	)

	store, err := prompt.NewStore(cfg.Prompts.Path)
	if err != nil {
		logging.Warn("[MAIN] Prompt template %s unusable (%v), using built-in template", cfg.Prompts.Path, err)
		store = prompt.Static{Template: prompt.Default()}
	}

	guard, err := policy.NewGuard(cfg.Policy)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	chain, err := rules.Build(cfg.Rules)
	if err != nil {
		return fmt.Errorf("rule sinks: %w", err)
	}
	defer chain.Close()

	installer := execution.NewExecutionModeHandler(&cfg.ExecutionMode, chain)
	recorder := controller.NewRecorder(recorderCapacity)
	notifier := notifications.NewManager(cfg.Notifications)
	defer notifier.Close()

	ctrl, err := controller.New(controller.Options{
		Flows:      flow.NewGenerator(cfg.Generator, nil),
		Prompts:    store,
		Invoker:    client,
		Normalizer: decision.NewNormalizer(),
		Guard:      guard,
		Builder: rules.Builder{
			Table:    cfg.Rules.TableName,
			Action:   cfg.Rules.ActionName,
			MatchKey: cfg.Rules.MatchKey,
		},
		Installer: installer,
		Observer:  controller.Observers{recorder, notifier},
		Metrics:   m,
		Interval:  cfg.Controller.Interval(),
	})
	if err != nil {
		return err
	}

	if cfg.API.Enabled {
		srv := api.NewAPIServer(cfg.API.ListenAddr, api.Deps{
			Stats:    ctrl,
			Intents:  recorder,
			Audit:    chain.Audit(),
			Cache:    client,
			Metrics:  m,
			ModeInfo: installer.GetModeInfo(),
			Provider: client.Name(),
		})
		go func() {
			if err := srv.Start(ctx); err != nil {
				logging.Error("[API] Status API stopped: %v", err)
			}
		}()
	}

	if cfg.Controller.MaxIterations > 0 {
		err = ctrl.RunN(ctx, cfg.Controller.MaxIterations)
	} else {
		err = ctrl.Run(ctx)
	}

	st := ctrl.Stats()
	logging.Info("[MAIN] Stopped: %d flows, %d drops, %d installs, %d vetoes, %d failures",
		st.Iterations, st.Drops, st.Installs, st.Vetoes, st.Failures)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
