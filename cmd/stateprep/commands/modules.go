package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stateprep/pkg/prep"
)

// moduleInfo describes one supported module.
type moduleInfo struct {
	Module string `json:"module"`
	Family string `json:"family"`
	Kind   string `json:"kind"`
}

func newModulesCommand(_ *rootOptions) *cobra.Command {
	var (
		family     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "modules",
		Short: "List supported modules",
		Long: `List the modules a step may name, with their family and record kind.

Modules of a family share an allow-list of subtypes that can be replaced
in the settings file under allowed_kinds.`,
		Example: `  # List every module
  stateprep modules

  # List file modules as JSON
  stateprep modules --family file --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var infos []moduleInfo
			for _, name := range prep.Modules() {
				m, _ := prep.ParseModule(name)
				if family != "" && string(m.Family()) != family {
					continue
				}
				infos = append(infos, moduleInfo{Module: name, Family: string(m.Family()), Kind: m.Kind()})
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}

			fmt.Fprintf(out, "%-28s %-12s %s\n", "MODULE", "FAMILY", "KIND")
			for _, info := range infos {
				fmt.Fprintf(out, "%-28s %-12s %s\n", info.Module, info.Family, info.Kind)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&family, "family", "", "only list modules of this family")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}
