package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/config"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/decision"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/flow"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/prompt"
)

func newGenerateCmd() *cobra.Command {
	var (
		count  int
		seed   int64
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print synthetic flow records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if seed != 0 {
				cfg.Generator.Seed = seed
			}
			gen := flow.NewGenerator(cfg.Generator, nil)
			return printFlows(cmd.OutOrStdout(), gen, count, asJSON)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of flows")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 = config value)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON record per line")
	return cmd
}

func printFlows(out io.Writer, gen *flow.Generator, count int, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		for i := 0; i < count; i++ {
			if err := enc.Encode(gen.Next()); err != nil {
				return err
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FLOW\tSOURCE\tDESTINATION\tPROTO\tPACKETS\tBYTES")
	for i := 0; i < count; i++ {
		r := gen.Next()
		fmt.Fprintf(w, "%d\t%s:%d\t%s:%d\t%d\t%d\t%d\n",
			r.FlowID, r.SrcIP, r.SrcPort, r.DstIP, r.DstPort, r.Protocol, r.PacketCount, r.ByteCount)
	}
	w.Flush()
	fmt.Fprintf(out, "\nTotal: %d flows\n", count)
	return nil
}

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize [response]",
		Short: "Normalize a classifier reply (reads stdin when no argument is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw string
			if len(args) == 1 {
				raw = args[0]
			} else {
				data, err := io.ReadAll(bufio.NewReader(cmd.InOrStdin()))
				if err != nil {
					return err
				}
				raw = string(data)
			}
			return printNormalized(cmd.OutOrStdout(), raw)
		},
	}
}

func printNormalized(out io.Writer, raw string) error {
	n := decision.NewNormalizer()
	fmt.Fprintf(out, "Cleaned:  %s\n", n.Clean(raw))

	d, err := n.Normalize(raw)
	if err != nil {
		var nerr *decision.NormalizeError
		if errors.As(err, &nerr) {
			fmt.Fprintf(out, "Stage:    %s\n", nerr.Stage)
		}
		fmt.Fprintf(out, "Decision: %s (fail-open)\n", decision.None())
		return err
	}
	fmt.Fprintf(out, "Decision: %s\n", d)
	return nil
}

func newPromptShowCmd() *cobra.Command {
	var (
		path     string
		assemble bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the prompt template segments",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				path = cfg.Prompts.Path
			}
			store, err := prompt.NewStore(path)
			if err != nil {
				return err
			}
			tpl, err := store.Load()
			if err != nil {
				return err
			}
			return printTemplate(cmd.OutOrStdout(), tpl, assemble)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "template file (default: config prompts.path or built-in)")
	cmd.Flags().BoolVar(&assemble, "assemble", false, "assemble the messages for a sample flow")
	return cmd
}

func printTemplate(out io.Writer, tpl *prompt.Template, assemble bool) error {
	fmt.Fprintf(out, "Template version: %s\n\n", tpl.Version)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if !assemble {
		fmt.Fprintln(w, "#\tROLE\tSTAGE\tCONTENT")
		for i, s := range tpl.Prompts {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, s.Role, s.Stage, oneLine(s.Content, 80))
		}
		return w.Flush()
	}

	gen := flow.NewGenerator(config.Defaults().Generator, rand.New(rand.NewSource(1)))
	body, err := json.Marshal(gen.Next())
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "#\tROLE\tCONTENT")
	for i, m := range tpl.Assemble(string(body)) {
		fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, m.Role, oneLine(m.Content, 100))
	}
	return w.Flush()
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > limit {
		return s[:limit-3] + "..."
	}
	return s
}
