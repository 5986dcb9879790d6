package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"kolmowatch/internal/kolmo"
)

// exportRecord is the JSON shape of one exported day. Rate and invariant
// fields are fixed-point 18-digit decimal strings; the approx block mirrors
// the day-over-day metrics as floats and is explicitly lossy.
type exportRecord struct {
	Date         string `json:"date"`
	RME4U        string `json:"r_me4u"`
	RIOU2        string `json:"r_iou2"`
	RUOME        string `json:"r_uome"`
	Kolmo        string `json:"kolmo"`
	DeviationPct string `json:"kolmo_deviation_pct"`
	State        string `json:"state"`
	Winner       string `json:"winner"`
	Rule         string `json:"rule"`

	Approx exportApprox `json:"approx"`
}

type exportApprox struct {
	VolME4U     *float64 `json:"vol_me4u"`
	VolIOU2     *float64 `json:"vol_iou2"`
	VolUOME     *float64 `json:"vol_uome"`
	RelpathME4U *float64 `json:"relpath_me4u"`
	RelpathIOU2 *float64 `json:"relpath_iou2"`
	RelpathUOME *float64 `json:"relpath_uome"`
}

// Export renders historical compute records as JSON, CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.JSONPath == "" && opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --json, --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC().Truncate(24 * time.Hour)
	if opts.To != nil {
		to = opts.To.UTC().Truncate(24 * time.Hour)
	}

	from := to.AddDate(0, 0, -opts.MaxPoints)
	if opts.From != nil {
		from = opts.From.UTC().Truncate(24 * time.Hour)
	}

	if from.After(to) {
		return errors.New("from must not be after to")
	}

	records, err := store.ListComputeRecordsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no records found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting records")

	if opts.JSONPath != "" {
		if err := writeRecordsJSON(opts.JSONPath, downsampled); err != nil {
			return err
		}
	}

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRecordsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRecords(records []*kolmo.DailyComputeRecord, max int) []*kolmo.DailyComputeRecord {
	if max <= 0 || len(records) <= max {
		return records
	}

	result := make([]*kolmo.DailyComputeRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeRecordsJSON(path string, records []*kolmo.DailyComputeRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	out := make([]exportRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, exportRecord{
			Date:         rec.Date.Format("2006-01-02"),
			RME4U:        kolmo.FormatFixed(rec.Rates.ME4U),
			RIOU2:        kolmo.FormatFixed(rec.Rates.IOU2),
			RUOME:        kolmo.FormatFixed(rec.Rates.UOME),
			Kolmo:        kolmo.FormatFixed(rec.Invariant.Value),
			DeviationPct: kolmo.FormatFixed(rec.Invariant.DeviationPct),
			State:        string(rec.Invariant.State),
			Winner:       string(rec.Winner),
			Rule:         string(rec.Reason.Rule),
			Approx: exportApprox{
				VolME4U:     lossyFloat(rec.Sequential.VolME4U),
				VolIOU2:     lossyFloat(rec.Sequential.VolIOU2),
				VolUOME:     lossyFloat(rec.Sequential.VolUOME),
				RelpathME4U: lossyFloat(rec.Sequential.RelpathME4U),
				RelpathIOU2: lossyFloat(rec.Sequential.RelpathIOU2),
				RelpathUOME: lossyFloat(rec.Sequential.RelpathUOME),
			},
		})
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeRecordsCSV(path string, records []*kolmo.DailyComputeRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"date", "r_me4u", "r_iou2", "r_uome",
		"kolmo", "kolmo_deviation_pct", "state",
		"vol_me4u", "vol_iou2", "vol_uome",
		"relpath_me4u", "relpath_iou2", "relpath_uome",
		"winner", "rule",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.Date.Format("2006-01-02"),
			kolmo.FormatFixed(rec.Rates.ME4U),
			kolmo.FormatFixed(rec.Rates.IOU2),
			kolmo.FormatFixed(rec.Rates.UOME),
			kolmo.FormatFixed(rec.Invariant.Value),
			kolmo.FormatFixed(rec.Invariant.DeviationPct),
			string(rec.Invariant.State),
			nullableFixed(rec.Sequential.VolME4U),
			nullableFixed(rec.Sequential.VolIOU2),
			nullableFixed(rec.Sequential.VolUOME),
			nullableFixed(rec.Sequential.RelpathME4U),
			nullableFixed(rec.Sequential.RelpathIOU2),
			nullableFixed(rec.Sequential.RelpathUOME),
			string(rec.Winner),
			string(rec.Reason.Rule),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeRecordsPNG(path string, records []*kolmo.DailyComputeRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	distME4U := make([]float64, len(records))
	distIOU2 := make([]float64, len(records))
	distUOME := make([]float64, len(records))
	deviation := make([]float64, len(records))

	for i, rec := range records {
		x[i] = rec.Date
		distME4U[i] = rec.Distances.ME4U.InexactFloat64()
		distIOU2[i] = rec.Distances.IOU2.InexactFloat64()
		distUOME[i] = rec.Distances.UOME.InexactFloat64()
		deviation[i] = rec.Invariant.DeviationPct.InexactFloat64()
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Distance (%)",
			ValueFormatter: pctFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "KOLMO deviation (%)",
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "ME4U",
				XValues: x,
				YValues: distME4U,
			},
			chart.TimeSeries{
				Name:    "IOU2",
				XValues: x,
				YValues: distIOU2,
			},
			chart.TimeSeries{
				Name:    "UOME",
				XValues: x,
				YValues: distUOME,
			},
			chart.TimeSeries{
				Name:    "KOLMO deviation",
				XValues: x,
				YValues: deviation,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func nullableFixed(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return kolmo.FormatFixed(*d)
}

func lossyFloat(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}
