package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/credit-markets/vitalfi-data/internal/amount"
	"github.com/credit-markets/vitalfi-data/internal/api"
)

type activityPoint struct {
	TS                 time.Time
	Kind               string
	Actor              string
	Amount             float64
	CumulativeDeposits float64
	CumulativeClaims   float64
}

// Export renders a vault's activity history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Vault == "" {
		return errors.New("--vault is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	client := a.newAPI(store)
	activity, err := client.VaultActivity(ctx, opts.Vault)
	if err != nil {
		return err
	}
	if len(activity) == 0 {
		a.Logger.Info().Str("vault", opts.Vault).Msg("no activity found for export")
		return nil
	}

	points := buildActivitySeries(activity, amount.NewConverter(a.Logger), a.Config.Ledger.AssetDecimals)
	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting vault activity")

	if opts.CSVPath != "" {
		if err := writeActivityCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeActivityPNG(opts.PNGPath, opts.Vault, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func buildActivitySeries(activity []api.Activity, conv amount.Converter, decimals uint8) []activityPoint {
	sorted := make([]api.Activity, len(activity))
	copy(sorted, activity)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TS < sorted[j].TS })

	points := make([]activityPoint, 0, len(sorted))
	var deposits, claims float64
	for _, act := range sorted {
		value := conv.FromBaseUnits(act.Amount, decimals)
		switch act.Kind {
		case "deposit":
			deposits += value
		case "claim":
			claims += value
		}
		points = append(points, activityPoint{
			TS:                 time.Unix(act.TS, 0).UTC(),
			Kind:               act.Kind,
			Actor:              act.Actor,
			Amount:             value,
			CumulativeDeposits: deposits,
			CumulativeClaims:   claims,
		})
	}
	return points
}

func downsamplePoints(points []activityPoint, max int) []activityPoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]activityPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeActivityCSV(path string, points []activityPoint) error {
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

	header := []string{"ts", "kind", "actor", "amount", "cumulative_deposits", "cumulative_claims"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, point := range points {
		record := []string{
			point.TS.Format(time.RFC3339),
			point.Kind,
			point.Actor,
			strconv.FormatFloat(point.Amount, 'f', -1, 64),
			strconv.FormatFloat(point.CumulativeDeposits, 'f', -1, 64),
			strconv.FormatFloat(point.CumulativeClaims, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeActivityPNG(path, vault string, points []activityPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	deposits := make([]float64, len(points))
	claims := make([]float64, len(points))

	for i, point := range points {
		x[i] = point.TS
		deposits[i] = point.CumulativeDeposits
		claims[i] = point.CumulativeClaims
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  "Vault " + vault,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Amount",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Cumulative deposits",
				XValues: x,
				YValues: deposits,
			},
			chart.TimeSeries{
				Name:    "Cumulative claims",
				XValues: x,
				YValues: claims,
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
