package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/KeyIP-Scoring/internal/bootstrap"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/ensemble"
)

func NewModelsCmd() *cobra.Command {
	m := &modelFlags{}
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Load the model catalog and print the model request summary",
		Long: "Load every requested scoring family from the configured models directory,\n" +
			"syncing it from object storage first when models.remote_prefix is set, and\n" +
			"print which families and networks a score run with the same flags would use.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := cc.commandContext(cmd.Context())
			defer cancel()

			rt, err := bootstrap.Build(ctx, cc.Config, cc.Logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			rc := baseRunConfig(cc.Config)
			m.apply(cmd.Flags(), &rc)
			cat, err := rt.Service.Models(ctx, rc)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cat.Summary(rc.FirstPoseOnly))
			fmt.Fprint(out, FormatTable([]string{"FAMILY", "KIND", "MODELS", "DETAIL"}, catalogRows(cat)))
			return nil
		},
	}
	m.register(cmd.Flags())
	return cmd
}

func catalogRows(cat *ensemble.Catalog) [][]string {
	rows := make([][]string, 0, len(cat.Models))
	for _, m := range cat.Models {
		var count int
		var detail string
		switch {
		case m.Booster != nil:
			count = m.Booster.NumTrees()
			detail = "base_score=" + strconv.FormatFloat(m.Booster.BaseScore, 'g', -1, 64)
		default:
			count = len(m.Networks)
			names := make([]string, len(m.Networks))
			for i, n := range m.Networks {
				names[i] = n.Name
			}
			detail = strings.Join(names, ",")
		}
		rows = append(rows, []string{m.Family.Name, m.Family.Kind.String(), strconv.Itoa(count), detail})
	}
	return rows
}
