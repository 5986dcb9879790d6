package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"kolmowatch/internal/app"
)

var (
	recomputeFrom string
	recomputeTo   string
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute derived records from stored snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		if recomputeFrom == "" || recomputeTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := parseDay("from", recomputeFrom)
		if err != nil {
			return err
		}
		to, err := parseDay("to", recomputeTo)
		if err != nil {
			return err
		}

		return getApp().Recompute(cmd.Context(), app.RecomputeOptions{From: from, To: to})
	},
}

func init() {
	recomputeCmd.Flags().StringVar(&recomputeFrom, "from", "", "Start date (YYYY-MM-DD, inclusive)")
	recomputeCmd.Flags().StringVar(&recomputeTo, "to", "", "End date (YYYY-MM-DD, inclusive)")
}
