package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"kolmowatch/internal/app"
)

var (
	coeffsDate     string
	coeffsJSONPath string
)

var coeffsCmd = &cobra.Command{
	Use:   "coeffs",
	Short: "Derive conversion coefficients for a stored date",
	RunE: func(cmd *cobra.Command, args []string) error {
		if coeffsDate == "" {
			return fmt.Errorf("--date must be provided")
		}

		date, err := parseDay("date", coeffsDate)
		if err != nil {
			return err
		}

		return getApp().Coeffs(cmd.Context(), app.CoeffsOptions{
			Date:     date,
			JSONPath: coeffsJSONPath,
		})
	},
}

func init() {
	coeffsCmd.Flags().StringVar(&coeffsDate, "date", "", "Record date (YYYY-MM-DD)")
	coeffsCmd.Flags().StringVar(&coeffsJSONPath, "json", "", "Path to write the coefficient set as JSON")
}
