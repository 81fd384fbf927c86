package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chartlens/internal/app"
	"chartlens/internal/engine"
	"chartlens/internal/market"
	"chartlens/internal/report"
)

// defaultBars is how far back --from reaches when omitted.
const defaultBars = 500

type analyzeFlags struct {
	symbol      string
	interval    string
	from        string
	to          string
	file        string
	asJSON      bool
	indicator   string
	kinds       string
	window      int
	lookback    int
	minStrength float64
	supports    []float64
	resistances []float64
}

func (f *analyzeFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.symbol, "symbol", "s", "BTCUSDT", "trading pair")
	fl.StringVarP(&f.interval, "interval", "i", "1h", "candle interval (1m, 15m, 1h, 4h, 1d...)")
	fl.StringVar(&f.from, "from", "", "range start: RFC3339, YYYY-MM-DD or unix ms (default: 500 bars before --to)")
	fl.StringVar(&f.to, "to", "", "range end, exclusive (default: now)")
	fl.StringVarP(&f.file, "file", "f", "", "read candles from CSV (timestamp,open,high,low,close,volume) instead of the exchange")
	fl.BoolVar(&f.asJSON, "json", false, "print JSON instead of tables")
	fl.StringVar(&f.indicator, "indicator", "", "oscillator for divergence (rsi, macd, macd_hist, obv, mfi)")
	fl.StringVar(&f.kinds, "kinds", "", "divergence kinds: regular, hidden or all")
	fl.IntVar(&f.window, "window", 0, "extrema window override")
	fl.IntVar(&f.lookback, "lookback", 0, "divergence lookback override")
	fl.Float64Var(&f.minStrength, "min-strength", 0, "minimum divergence/crossover strength override")
	fl.Float64SliceVar(&f.supports, "support", nil, "support price for pattern scoring (repeatable)")
	fl.Float64SliceVar(&f.resistances, "resistance", nil, "resistance price for pattern scoring (repeatable)")
}

func (f *analyzeFlags) request(op engine.Operation, now time.Time) (engine.Request, error) {
	req := engine.Request{
		Operation:   op,
		Symbol:      f.symbol,
		Interval:    f.interval,
		Indicator:   f.indicator,
		Supports:    f.supports,
		Resistances: f.resistances,
		Params: engine.Params{
			ExtremaWindow:   f.window,
			Lookback:        f.lookback,
			MinStrength:     f.minStrength,
			DivergenceKinds: f.kinds,
		},
	}
	if f.file != "" {
		candles, err := readCandles(f.file)
		if err != nil {
			return engine.Request{}, err
		}
		req.Candles = candles
		return req, nil
	}

	end := now
	if f.to != "" {
		t, err := parseTime(f.to)
		if err != nil {
			return engine.Request{}, fmt.Errorf("--to: %w", err)
		}
		end = t
	}
	step, err := market.IntervalDuration(f.interval)
	if err != nil {
		return engine.Request{}, err
	}
	start := end.Add(-defaultBars * step)
	if f.from != "" {
		t, err := parseTime(f.from)
		if err != nil {
			return engine.Request{}, fmt.Errorf("--from: %w", err)
		}
		start = t
	}
	req.Start, req.End = start, end
	return req, nil
}

func readCandles(path string) ([]market.Candle, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candles: %w", err)
	}
	defer fh.Close()
	return market.ReadCSV(fh)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var analyzeOpts analyzeFlags

var analyzeCmd = &cobra.Command{
	Use:   "analyze <operation>",
	Short: "Run one analysis operation",
	Long: `Run one of: trendline, patterns, divergence, volume_divergence, macd_crossover, levels.

Examples:
  chartlens analyze trendline --symbol BTCUSDT --interval 4h
  chartlens analyze divergence --indicator rsi --kinds all --from 2024-03-01 --to 2024-04-01
  chartlens analyze patterns --file candles.csv --support 61200 --resistance 64800`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		op, err := engine.ParseOperation(args[0])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			req, err := analyzeOpts.request(op, time.Now().UTC())
			if err != nil {
				return err
			}
			res, err := a.Engine.Run(ctx, req)
			if err != nil {
				return err
			}
			if analyzeOpts.asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			report.Render(cmd.OutOrStdout(), res)
			return nil
		})
	},
}

var scanOpts analyzeFlags

var scanCmd = &cobra.Command{
	Use:   "scan [operation...]",
	Short: "Run several operations over one candle load (all when none given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ops := make([]engine.Operation, 0, len(args))
		for _, a := range args {
			op, err := engine.ParseOperation(a)
			if err != nil {
				return err
			}
			ops = append(ops, op)
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			req, err := scanOpts.request("", time.Now().UTC())
			if err != nil {
				return err
			}
			results, err := a.Engine.Scan(ctx, req, ops)
			if err != nil {
				return err
			}
			if scanOpts.asJSON {
				return printJSON(cmd.OutOrStdout(), results)
			}
			for _, res := range results {
				report.Render(cmd.OutOrStdout(), res)
			}
			return nil
		})
	},
}

func init() {
	analyzeOpts.bind(analyzeCmd)
	scanOpts.bind(scanCmd)
	rootCmd.AddCommand(analyzeCmd, scanCmd)
}
