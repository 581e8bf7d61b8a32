// Package report builds post-run summaries: per-minute crossing timelines
// rendered as ECharts HTML and headway statistics over credited crossings.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/crosswatch-data/crossing.report/internal/db"
)

// RunReport aggregates one run's persisted data for reporting.
type RunReport struct {
	Run     *db.Run
	Buckets []db.MinuteBucket

	// Headway percentiles in frames between successive crossings. Zero when
	// the run has fewer than two crossings.
	HeadwayP50 float64
	HeadwayP85 float64
	HeadwayP95 float64
}

// Build loads a run and its crossings and computes the report aggregates.
func Build(database *db.DB, runID string) (*RunReport, error) {
	run, err := database.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}

	buckets, err := database.CrossingsPerMinute(runID)
	if err != nil {
		return nil, fmt.Errorf("load rollup: %w", err)
	}

	crossings, err := database.ListCrossings(runID, 0)
	if err != nil {
		return nil, fmt.Errorf("load crossings: %w", err)
	}

	r := &RunReport{Run: run, Buckets: buckets}
	r.HeadwayP50, r.HeadwayP85, r.HeadwayP95 = Percentiles(Headways(crossings))
	return r, nil
}

// Headways returns the frame gaps between successive crossings.
func Headways(crossings []*db.Crossing) []float64 {
	if len(crossings) < 2 {
		return nil
	}
	gaps := make([]float64, 0, len(crossings)-1)
	for i := 1; i < len(crossings); i++ {
		gaps = append(gaps, float64(crossings[i].FrameIndex-crossings[i-1].FrameIndex))
	}
	return gaps
}

// Percentiles computes the p50, p85 and p95 of the given samples. Returns
// zeroes for an empty sample set.
func Percentiles(samples []float64) (p50, p85, p95 float64) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	p50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	p85 = stat.Quantile(0.85, stat.Empirical, sorted, nil)
	p95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	return p50, p85, p95
}

// RenderHTML writes the run's per-minute crossing timeline as a standalone
// ECharts HTML page.
func (r *RunReport) RenderHTML(w io.Writer) error {
	minutes := make([]string, 0, len(r.Buckets))
	enter := make([]opts.LineData, 0, len(r.Buckets))
	exit := make([]opts.LineData, 0, len(r.Buckets))
	for _, b := range r.Buckets {
		minutes = append(minutes, b.Minute)
		enter = append(enter, opts.LineData{Value: b.Enter})
		exit = append(exit, opts.LineData{Value: b.Exit})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Crossing Report",
			Theme:     "dark",
			Width:     "1100px",
			Height:    "500px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title: "Vehicle crossings per minute",
			Subtitle: fmt.Sprintf("run=%s source=%s enter=%d exit=%d",
				r.Run.RunID, r.Run.Source, r.Run.EnterCount, r.Run.ExitCount),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	line.SetXAxis(minutes).
		AddSeries("enter", enter).
		AddSeries("exit", exit)

	if err := line.Render(w); err != nil {
		return fmt.Errorf("render report chart: %w", err)
	}
	return nil
}
