package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/rules"
)

var auditPath string

func openAudit() (*rules.SQLiteAudit, string, error) {
	path := auditPath
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, "", err
		}
		path = cfg.Rules.SQLite.Path
	}
	if _, err := os.Stat(path); err != nil {
		return nil, path, fmt.Errorf("audit database %s: %w", path, err)
	}
	a, err := rules.NewSQLiteAudit(path)
	return a, path, err
}

func newRulesListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recently applied rule intents",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := openAudit()
			if err != nil {
				return err
			}
			defer a.Close()

			stored, err := a.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printStored(cmd.OutOrStdout(), stored)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "maximum rows")
	cmd.Flags().StringVar(&auditPath, "db", "", "audit database (default: config rules.sqlite.path)")
	return cmd
}

func printStored(out io.Writer, stored []rules.StoredIntent) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFLOW\tTABLE\tTARGET\tACTION\tAPPLIED")
	for _, s := range stored {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
			s.ID, s.Intent.FlowID, s.Intent.TableName, s.Intent.Target(), s.Intent.ActionName,
			s.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
	fmt.Fprintf(out, "\nTotal: %d rules\n", len(stored))
}

func newRulesStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show rule audit statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, path, err := openAudit()
			if err != nil {
				return err
			}
			defer a.Close()
			return printAuditStats(cmd.Context(), cmd.OutOrStdout(), a, path)
		},
	}
	cmd.Flags().StringVar(&auditPath, "db", "", "audit database (default: config rules.sqlite.path)")
	return cmd
}

func printAuditStats(ctx context.Context, out io.Writer, a *rules.SQLiteAudit, path string) error {
	st, err := a.Stats(ctx)
	if err != nil {
		return err
	}

	size := "unknown"
	if fi, err := os.Stat(path); err == nil {
		size = fmt.Sprintf("%.2f MB", float64(fi.Size())/(1024*1024))
	}

	fmt.Fprintf(out, `
Rule Audit Statistics
=====================
Applied Intents:     %d
Distinct Targets:    %d
Database Size:       %s
`, st.Total, st.Targets, size)

	if len(st.TopTargets) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tDROPS")
	for _, tc := range st.TopTargets {
		fmt.Fprintf(w, "%s\t%d\n", tc.TargetIP, tc.Count)
	}
	return w.Flush()
}

func newRulesSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Show the audit database schema",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), `
FlowGuard Audit Tables
======================

- rule_intents   One row per intent accepted by the sqlite sink`)
			fmt.Fprint(cmd.OutOrStdout(), rules.Schema, "\n")
		},
	}
}
