package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/traffic"
)

type overrides struct {
	rate       float64
	duration   time.Duration
	packetSize int
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "flowguard-traffic",
		Short: "Rate-controlled UDP senders for data-plane tests",
		Long: `flowguard-traffic sends fixed-size UDP datagrams at a target rate so the
switch rate meter and its hysteresis can be observed.`,
		SilenceUsage: true,
	}

	for _, name := range []string{"high", "low", "hysteresis"} {
		rootCmd.AddCommand(newPresetCmd(name))
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newPresetCmd(name string) *cobra.Command {
	var o overrides
	plan := traffic.Presets[name]()

	cmd := &cobra.Command{
		Use:   name + " <ip> <port>",
		Short: describe(plan),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil || port <= 0 || port > 65535 {
				return fmt.Errorf("invalid port %q", args[1])
			}
			return send(cmd.OutOrStdout(), args[0], port, apply(plan, o))
		},
	}
	cmd.Flags().Float64VarP(&o.rate, "rate", "r", 0, "rate in Mb/s for every phase")
	cmd.Flags().DurationVarP(&o.duration, "duration", "d", 0, "duration of every phase")
	cmd.Flags().IntVarP(&o.packetSize, "packet-size", "s", 0, "UDP payload size in bytes")
	return cmd
}

func describe(p traffic.Plan) string {
	parts := make([]string, 0, len(p.Phases))
	for _, ph := range p.Phases {
		parts = append(parts, fmt.Sprintf("%g Mb/s for %s", ph.RateMbps, ph.Duration))
	}
	return fmt.Sprintf("Send %s", strings.Join(parts, ", then "))
}

// apply returns a copy of p with the non-zero overrides set on every phase.
func apply(p traffic.Plan, o overrides) traffic.Plan {
	phases := make([]traffic.Phase, len(p.Phases))
	copy(phases, p.Phases)
	for i := range phases {
		if o.rate > 0 {
			phases[i].RateMbps = o.rate
		}
		if o.duration > 0 {
			phases[i].Duration = o.duration
		}
	}
	p.Phases = phases
	if o.packetSize > 0 {
		p.PacketSize = o.packetSize
	}
	return p
}

func send(out io.Writer, ip string, port int, plan traffic.Plan) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := traffic.Dial(ip, port,
		traffic.WithPhaseStart(func(ph traffic.Phase, pps float64) {
			fmt.Fprintf(out, "\n%s\nPHASE: %s\nRate: %g Mb/s for %s\nPackets/second: %.2f\n%s\n\n",
				strings.Repeat("=", 60), ph.Name, ph.RateMbps, ph.Duration, pps, strings.Repeat("=", 60))
		}),
		traffic.WithProgress(func(p traffic.Progress) {
			fmt.Fprintf(out, "[%.1fs | window ~%d] rate: %.2f Mb/s, packets: %d\n",
				p.Elapsed.Seconds(), p.Windows, p.CurrentMbps, p.Packets)
		}),
	)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Fprintf(out, "Target: %s:%d (%s, %d byte packets)\n", ip, port, plan.Name, plan.PacketSize)

	res, err := s.Run(ctx, plan)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(out, "\nInterrupted")
		err = nil
	}

	fmt.Fprintf(out, `
Final Statistics
================
Duration:        %.2f s
Windows:         ~%d
Packets Sent:    %d
Bytes Sent:      %d
Average Rate:    %.2f Mb/s
`, res.Elapsed.Seconds(), res.Windows(), res.Packets, res.Bytes, res.AvgMbps())
	return err
}
