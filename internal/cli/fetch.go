package cli

import (
	"time"

	"github.com/spf13/cobra"
)

var fetchDate string

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run the full pipeline once for a single date",
	RunE: func(cmd *cobra.Command, args []string) error {
		date := time.Now().UTC().Truncate(24 * time.Hour)
		if fetchDate != "" {
			parsed, err := parseDay("date", fetchDate)
			if err != nil {
				return err
			}
			date = parsed
		}
		return getApp().Fetch(cmd.Context(), date)
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchDate, "date", "", "Quote date (YYYY-MM-DD, defaults to today UTC)")
}
