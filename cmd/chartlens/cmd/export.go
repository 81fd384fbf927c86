package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"chartlens/internal/app"
	"chartlens/internal/engine"
	"chartlens/internal/market"
	"chartlens/internal/store"
)

var exportOpts struct {
	symbol   string
	interval string
	limit    int
	output   string
	fetch    bool
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write cached candles to CSV",
	Long: `Write the most recent cached candles for a symbol as CSV
(timestamp,open,high,low,close,volume), the format "analyze --file" reads.

Examples:
  chartlens export --symbol BTCUSDT --interval 1h --limit 500 --output btc_1h.csv
  chartlens export --symbol ETHUSDT --interval 4h --fetch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if exportOpts.fetch {
				if err := warmCache(ctx, a.Engine, time.Now().UTC()); err != nil {
					return err
				}
			}
			w := cmd.OutOrStdout()
			if exportOpts.output != "" {
				fh, err := os.Create(exportOpts.output)
				if err != nil {
					return fmt.Errorf("create %s: %w", exportOpts.output, err)
				}
				defer fh.Close()
				w = fh
			}
			n, err := writeExport(ctx, a.Candles, w, exportOpts.symbol, exportOpts.interval, exportOpts.limit)
			if err != nil {
				return err
			}
			if exportOpts.output != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d candles to %s\n", n, exportOpts.output)
			}
			return nil
		})
	},
}

// warmCache loads the last --limit bars through the engine so they land in the cache.
func warmCache(ctx context.Context, eng *engine.Engine, now time.Time) error {
	step, err := market.IntervalDuration(exportOpts.interval)
	if err != nil {
		return err
	}
	end := now.Truncate(step)
	_, err = eng.Load(ctx, engine.Request{
		Symbol:   exportOpts.symbol,
		Interval: exportOpts.interval,
		Start:    end.Add(-time.Duration(exportOpts.limit) * step),
		End:      end,
	})
	return err
}

func writeExport(ctx context.Context, exp store.SnapshotExporter, w io.Writer, symbol, interval string, limit int) (int, error) {
	if exp == nil {
		return 0, fmt.Errorf("no candle cache configured")
	}
	candles, err := exp.Export(ctx, symbol, interval, limit)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, fmt.Errorf("no cached candles for %s %s (try --fetch)", symbol, interval)
	}
	if err := market.WriteCSV(w, candles); err != nil {
		return 0, fmt.Errorf("write csv: %w", err)
	}
	return len(candles), nil
}

func init() {
	fl := exportCmd.Flags()
	fl.StringVarP(&exportOpts.symbol, "symbol", "s", "BTCUSDT", "trading pair")
	fl.StringVarP(&exportOpts.interval, "interval", "i", "1h", "candle interval")
	fl.IntVarP(&exportOpts.limit, "limit", "n", defaultBars, "number of most recent candles")
	fl.StringVarP(&exportOpts.output, "output", "o", "", "output file (default stdout)")
	fl.BoolVar(&exportOpts.fetch, "fetch", false, "load the last --limit bars from the exchange first")
	rootCmd.AddCommand(exportCmd)
}
