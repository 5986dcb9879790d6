package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"

	"kolmowatch/internal/kolmo"
)

// coeffsDocument is the JSON shape of a derived coefficient set. All
// coefficients are fixed-point 18-digit decimal strings, grouped the way
// the derivation builds them.
type coeffsDocument struct {
	Date   string `json:"date"`
	Winner string `json:"winner"`

	WinnerToWinner map[string]string `json:"winner_to_winner"`
	FiatToWinner   map[string]string `json:"fiat_to_winner"`
	WinnerToFiat   map[string]string `json:"winner_to_fiat"`
	RubToWinner    map[string]string `json:"rub_to_winner"`
	WinnerToRub    map[string]string `json:"winner_to_rub"`
	CbrToWinner    map[string]string `json:"cbr_to_winner"`
	WinnerToCbr    map[string]string `json:"winner_to_cbr"`
}

// Coeffs derives the conversion coefficient table for a stored date and
// prints it, optionally writing the full set to a JSON file.
func (a *App) Coeffs(ctx context.Context, opts CoeffsOptions) error {
	svc, closeStore, err := a.newService(ctx, nil, false)
	if err != nil {
		return err
	}
	defer closeStore()

	set, err := svc.Coefficients(ctx, opts.Date.UTC())
	if err != nil {
		return err
	}

	doc := coeffsDocument{
		Date:           set.Date,
		Winner:         string(set.Winner),
		WinnerToWinner: renderCoeffs(set.WinnerToWinner),
		FiatToWinner:   renderCoeffs(set.FiatToWinner),
		WinnerToFiat:   renderCoeffs(set.WinnerToFiat),
		RubToWinner:    renderCoeffs(set.RubToWinner),
		WinnerToRub:    renderCoeffs(set.WinnerToRub),
		CbrToWinner:    renderCoeffs(set.CbrToWinner),
		WinnerToCbr:    renderCoeffs(set.WinnerToCbr),
	}

	if opts.JSONPath != "" {
		if err := writeCoeffsJSON(opts.JSONPath, doc); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.JSONPath).Msg("coefficient set written")
		return nil
	}

	printCoeffBlock("winner <-> winner", doc.WinnerToWinner)
	printCoeffBlock("fiat -> winner", doc.FiatToWinner)
	printCoeffBlock("winner -> fiat", doc.WinnerToFiat)
	printCoeffBlock("rub <-> winner", mergeBlocks(doc.RubToWinner, doc.WinnerToRub))
	printCoeffBlock("cbr <-> winner", mergeBlocks(doc.CbrToWinner, doc.WinnerToCbr))
	return nil
}

func renderCoeffs(block map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(block))
	for key, value := range block {
		out[key] = kolmo.FormatFixed(value)
	}
	return out
}

func mergeBlocks(blocks ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, block := range blocks {
		for key, value := range block {
			out[key] = value
		}
	}
	return out
}

func printCoeffBlock(title string, block map[string]string) {
	if len(block) == 0 {
		return
	}
	keys := make([]string, 0, len(block))
	for key := range block {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fmt.Fprintf(os.Stdout, "%s\n", title)
	for _, key := range keys {
		fmt.Fprintf(os.Stdout, "  %-12s %s\n", key, block[key])
	}
}

func writeCoeffsJSON(path string, doc coeffsDocument) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
