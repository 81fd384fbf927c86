// Package report renders engine results as terminal tables.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"chartlens/internal/analysis/trendline"
	"chartlens/internal/engine"
	"chartlens/internal/gateway/database"
)

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

func stamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04")
}

// Render writes one table per non-empty section of res, or a single "no signals" line.
func Render(w io.Writer, res engine.Result) {
	header := fmt.Sprintf("%s %s %s (%d candles, run %s)", res.Operation, res.Symbol, res.Interval, res.CandleCount, res.RunID)
	if res.Error != "" {
		fmt.Fprintf(w, "%s: skipped, %s\n", header, res.Error)
		return
	}
	if res.Count() == 0 && res.Trendlines == nil {
		fmt.Fprintf(w, "%s: no signals\n", header)
		renderReadings(w, res)
		return
	}
	fmt.Fprintln(w, header)
	renderReadings(w, res)
	if res.Trendlines != nil {
		renderTrendlines(w, res.Trendlines)
	}
	if len(res.Patterns) > 0 {
		renderPatterns(w, res)
	}
	if len(res.Divergences) > 0 {
		renderDivergences(w, res)
	}
	if len(res.Crossovers) > 0 {
		renderCrossovers(w, res)
	}
	if res.Levels != nil {
		renderLevels(w, res)
	}
}

func renderReadings(w io.Writer, res engine.Result) {
	for _, r := range res.Readings {
		fmt.Fprintf(w, "  %s latest %.4f (%s)\n", r.Name, r.Value, r.State)
	}
}

func renderTrendlines(w io.Writer, tl *engine.Trendlines) {
	t := newTable(w, "Trend lines")
	t.AppendHeader(table.Row{"Side", "Points", "Confidence", "Start", "Start price", "End", "End price", "Slope/h"})
	for _, side := range []struct {
		name string
		line *trendline.Result
	}{{"resistance", tl.Resistance}, {"support", tl.Support}} {
		line := side.line
		if line == nil {
			t.AppendRow(table.Row{side.name, "-", "-", "-", "-", "-", "-", "-"})
			continue
		}
		t.AppendRow(table.Row{
			side.name,
			len(line.Points),
			fmt.Sprintf("%.0f%%", line.Confidence*100),
			stamp(line.Start.Timestamp),
			fmt.Sprintf("%.4f", line.Start.Price),
			stamp(line.End.Timestamp),
			fmt.Sprintf("%.4f", line.End.Price),
			fmt.Sprintf("%.6f", line.Line.Slope*float64(time.Hour/time.Millisecond)),
		})
	}
	t.Render()
}

func renderPatterns(w io.Writer, res engine.Result) {
	t := newTable(w, "Patterns")
	t.AppendHeader(table.Row{"Time", "Pattern", "Price", "Significance", "Description"})
	for _, p := range res.Patterns {
		var ts int64
		if n := len(p.CandleTimestamps); n > 0 {
			ts = p.CandleTimestamps[n-1]
		}
		t.AppendRow(table.Row{stamp(ts), p.Kind, fmt.Sprintf("%.4f", p.Price), fmt.Sprintf("%.2f", p.Significance), p.Description})
	}
	t.Render()
}

func renderDivergences(w io.Writer, res engine.Result) {
	t := newTable(w, "Divergences")
	t.AppendHeader(table.Row{"Kind", "Indicator", "From", "To", "Strength", "Confidence", "Description"})
	for _, d := range res.Divergences {
		t.AppendRow(table.Row{
			d.Kind, d.Indicator, stamp(d.Start.Timestamp), stamp(d.End.Timestamp),
			fmt.Sprintf("%.1f", d.Strength), fmt.Sprintf("%.0f", d.Confidence), d.Description,
		})
	}
	t.Render()
}

func renderCrossovers(w io.Writer, res engine.Result) {
	t := newTable(w, "MACD crossovers")
	t.AppendHeader(table.Row{"Time", "Kind", "MACD", "Signal", "Histogram", "Strength"})
	for _, c := range res.Crossovers {
		t.AppendRow(table.Row{
			stamp(c.Timestamp), c.Kind, fmt.Sprintf("%.4f", c.MACD), fmt.Sprintf("%.4f", c.Signal),
			fmt.Sprintf("%.4f", c.Histogram), fmt.Sprintf("%.1f", c.Strength),
		})
	}
	t.Render()
}

func renderLevels(w io.Writer, res engine.Result) {
	t := newTable(w, "Levels")
	t.AppendHeader(table.Row{"Kind", "Price", "Touches", "Last touch"})
	for _, l := range res.Levels.Resistance {
		t.AppendRow(table.Row{l.Kind, fmt.Sprintf("%.4f", l.Price), l.Touches, stamp(l.LastTimestamp)})
	}
	for _, l := range res.Levels.Support {
		t.AppendRow(table.Row{l.Kind, fmt.Sprintf("%.4f", l.Price), l.Touches, stamp(l.LastTimestamp)})
	}
	t.Render()
}

// RenderRuns lists journal entries newest first.
func RenderRuns(w io.Writer, runs []database.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	t := newTable(w, "Recent runs")
	t.AppendHeader(table.Row{"Run", "Time", "Operation", "Symbol", "Interval", "Candles", "Signals"})
	for _, r := range runs {
		t.AppendRow(table.Row{r.RunID, r.Time.Format("2006-01-02 15:04:05"), r.Operation, r.Symbol, r.Interval, r.CandleCount, r.SignalCount})
	}
	t.Render()
}
