package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stateprep/pkg/stores"
)

func newHistoryCommand(rootOpts *rootOptions) *cobra.Command {
	var storePath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded compilations",
		Long: `Inspect compilations recorded with 'compile --record'.

Each entry keeps the document hash, counters, warnings, skipped steps,
policy violations and the encoded output of successful compilations.`,
	}

	cmd.PersistentFlags().StringVar(&storePath, "store", "", "history database path (default from settings)")

	cmd.AddCommand(newHistoryListCommand(rootOpts, &storePath))
	cmd.AddCommand(newHistoryShowCommand(rootOpts, &storePath))
	cmd.AddCommand(newHistoryPruneCommand(rootOpts, &storePath))

	return cmd
}

// withStore runs fn with an open history database.
func withStore(cmd *cobra.Command, rootOpts *rootOptions, path string, fn func(store *stores.SQLiteStore) error) error {
	sess, err := newSession(rootOpts)
	if err != nil {
		return err
	}
	defer sess.close()

	store, err := sess.openStore(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(store)
}

func newHistoryListCommand(rootOpts *rootOptions, storePath *string) *cobra.Command {
	var (
		document string
		status   string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded compilations, newest first",
		Example: `  # List the last 10 compilations of a document
  stateprep history list --document site.yaml --limit 10

  # List rejected compilations
  stateprep history list --status rejected`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, rootOpts, *storePath, func(store *stores.SQLiteStore) error {
				compilations, err := store.ListCompilations(cmd.Context(), stores.ListOptions{
					Document: document,
					Status:   stores.CompilationStatus(status),
					Limit:    limit,
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-36s %-20s %-9s %7s %7s  %s\n", "ID", "STARTED", "STATUS", "RECORDS", "SKIPPED", "DOCUMENT")
				for _, c := range compilations {
					fmt.Fprintf(out, "%-36s %-20s %-9s %7d %7d  %s\n",
						c.ID, c.StartedAt.Format(time.DateTime), c.Status, c.Records, c.Skipped, c.Document)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&document, "document", "", "only list compilations of this document")
	cmd.Flags().StringVar(&status, "status", "", "only list compilations with this status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of compilations")

	return cmd
}

// compilationDetail is the JSON form of history show.
type compilationDetail struct {
	*stores.Compilation
	SkippedSteps []*stores.SkippedStep     `json:"skipped_steps,omitempty"`
	Violations   []*stores.PolicyViolation `json:"policy_violations,omitempty"`
}

func newHistoryShowCommand(rootOpts *rootOptions, storePath *string) *cobra.Command {
	var (
		jsonOutput bool
		output     bool
	)

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one compilation with its skipped steps and violations",
		Example: `  # Show a compilation
  stateprep history show 6f1c9a52-0d7e-4a8f-9b43-3c1f0f7c2e11

  # Print only the recorded output
  stateprep history show 6f1c9a52-0d7e-4a8f-9b43-3c1f0f7c2e11 --output`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, rootOpts, *storePath, func(store *stores.SQLiteStore) error {
				ctx := cmd.Context()
				out := cmd.OutOrStdout()

				c, err := store.GetCompilation(ctx, args[0])
				if err != nil {
					return err
				}

				if output {
					if c.Output == nil {
						return fmt.Errorf("compilation %s has no output (status %s)", c.ID, c.Status)
					}
					_, err := fmt.Fprint(out, *c.Output)
					return err
				}

				skipped, err := store.ListSkippedSteps(ctx, c.ID)
				if err != nil {
					return err
				}
				violations, err := store.ListPolicyViolations(ctx, c.ID)
				if err != nil {
					return err
				}

				if jsonOutput {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(compilationDetail{Compilation: c, SkippedSteps: skipped, Violations: violations})
				}

				fmt.Fprintf(out, "ID:         %s\n", c.ID)
				fmt.Fprintf(out, "Document:   %s (sha256 %s)\n", c.Document, c.DocumentHash)
				fmt.Fprintf(out, "Status:     %s\n", c.Status)
				fmt.Fprintf(out, "Started:    %s\n", c.StartedAt.Format(time.RFC3339))
				fmt.Fprintf(out, "Duration:   %s\n", c.Duration)
				fmt.Fprintf(out, "Components: %d  Steps: %d  Records: %d  Skipped: %d\n",
					c.Components, c.Steps, c.Records, c.Skipped)
				if c.Error != nil {
					fmt.Fprintf(out, "Error:      %s\n", *c.Error)
				}
				for _, w := range c.Warnings {
					fmt.Fprintf(out, "Warning:    %s\n", w)
				}
				if len(skipped) > 0 {
					fmt.Fprintln(out, "\nSkipped steps:")
					for _, s := range skipped {
						fmt.Fprintf(out, "  %s/%s %s %s: %s\n", s.Component, s.StateID, s.Module, s.Code, s.Message)
					}
				}
				if len(violations) > 0 {
					fmt.Fprintln(out, "\nPolicy violations:")
					for _, v := range violations {
						fmt.Fprintf(out, "  [%s] %s %s: %s\n", v.Severity, v.Policy, v.Tag, v.Message)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().BoolVar(&output, "output", false, "print only the recorded output")

	return cmd
}

func newHistoryPruneCommand(rootOpts *rootOptions, storePath *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete compilations older than a duration",
		Example: `  # Keep the last 30 days
  stateprep history prune --older-than 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return withStore(cmd, rootOpts, *storePath, func(store *stores.SQLiteStore) error {
				n, err := store.PruneCompilations(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d compilation(s)\n", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the oldest compilation to keep")

	return cmd
}
