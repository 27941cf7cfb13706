package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stateprep/pkg/config"
)

func newValidateCommand(rootOpts *rootOptions) *cobra.Command {
	var (
		strict   bool
		policies []string
	)

	cmd := &cobra.Command{
		Use:   "validate <document>...",
		Short: "Validate documents without writing output",
		Long: `Validate documents against the schema and compile them in memory.

This command reports:
  - Schema violations with their location
  - Steps that would be skipped, with their error code
  - Requisites that match no record
  - Policy files that fail to compile

With --strict, skipped steps and dangling requisites are failures too.`,
		Example: `  # Validate a document
  stateprep validate site.yaml

  # Validate several documents strictly
  stateprep validate --strict web.yaml db.json

  # Check that a policy directory compiles
  stateprep validate --policy ./policies site.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			sess, err := newSession(rootOpts)
			if err != nil {
				return err
			}
			defer sess.close()

			if len(policies) > 0 {
				if _, err := sess.policyEngine(ctx, policies); err != nil {
					return err
				}
			}

			loader := config.NewLoader(sess.logger)
			compiler := sess.compiler()

			failed := 0
			for _, path := range args {
				doc, err := loader.Load(ctx, path)
				if err != nil {
					failed++
					var verrs config.ValidationErrors
					if errors.As(err, &verrs) {
						fmt.Fprintf(out, "✗ %s: %d schema error(s)\n", path, len(verrs))
						for _, v := range verrs {
							fmt.Fprintf(out, "  %s\n", v.String())
						}
						continue
					}
					fmt.Fprintf(out, "✗ %s: %v\n", path, err)
					continue
				}

				result, err := compiler.Compile(ctx, doc)
				if err != nil {
					failed++
					fmt.Fprintf(out, "✗ %s: %v\n", path, err)
					continue
				}

				mark := "✓"
				if strict && (len(result.Skipped) > 0 || len(result.Warnings) > 0) {
					mark = "✗"
					failed++
				}
				fmt.Fprintf(out, "%s %s: %d component(s), %d step(s), %d record(s), %d skipped\n",
					mark, path, result.Components, result.Steps, len(result.Records), len(result.Skipped))
				for _, s := range result.Skipped {
					fmt.Fprintf(out, "  skipped %s/%s %s: %s\n", s.Component, s.StateID, s.Err.Code, s.Err.Message)
				}
				for _, w := range result.Warnings {
					fmt.Fprintf(out, "  warning: %s\n", w)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d document(s) failed validation", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat skipped steps and dangling requisites as failures")
	cmd.Flags().StringSliceVar(&policies, "policy", nil, "policy file or directory to compile (repeatable)")

	return cmd
}
