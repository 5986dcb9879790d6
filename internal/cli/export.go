package cli

import (
	"github.com/spf13/cobra"

	"kolmowatch/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportJSONPath  string
	exportCSVPath   string
	exportPNGPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export daily records as JSON, CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			JSONPath:  exportJSONPath,
			CSVPath:   exportCSVPath,
			PNGPath:   exportPNGPath,
			MaxPoints: exportMaxPoints,
		}

		if exportFrom != "" {
			from, err := parseDay("from", exportFrom)
			if err != nil {
				return err
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := parseDay("to", exportTo)
			if err != nil {
				return err
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start date (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End date (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportJSONPath, "json", "", "Path to write JSON data")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
