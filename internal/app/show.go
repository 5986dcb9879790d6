package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
)

// Show prints the most recent compute records.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show records")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListRecentComputeRecords(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no records found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tME4U\tIOU2\tUOME\tKOLMO\tDeviation%\tState\tWinner\tRule")

	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Date.Format("2006-01-02"),
			formatDecimal(rec.Rates.ME4U, 6),
			formatDecimal(rec.Rates.IOU2, 6),
			formatDecimal(rec.Rates.UOME, 6),
			formatDecimal(rec.Invariant.Value, 10),
			formatDecimal(rec.Invariant.DeviationPct, 6),
			rec.Invariant.State,
			rec.Winner,
			sanitizeInline(string(rec.Reason.Rule)),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
