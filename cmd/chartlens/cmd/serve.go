package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"chartlens/internal/app"
	"chartlens/internal/config"
	"chartlens/internal/report"
	"chartlens/internal/transport/http/analyze"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			addr := a.Config.Server.Addr
			if serveAddr != "" {
				addr = serveAddr
			}
			srv, err := analyze.NewServer(analyze.ServerConfig{Addr: addr, Runner: a.Engine, Runs: a.RunLog()})
			if err != nil {
				return err
			}
			return srv.Start(ctx)
		})
	},
}

var (
	runsSymbol string
	runsLimit  int
	runsJSON   bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent journaled analysis runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if a.Journal == nil {
				return fmt.Errorf("signal journal disabled (storage.driver=%s)", a.Config.Storage.Driver)
			}
			runs, err := a.Journal.Recent(ctx, runsSymbol, runsLimit)
			if err != nil {
				return err
			}
			if runsJSON {
				return printJSON(cmd.OutOrStdout(), runs)
			}
			report.RenderRuns(cmd.OutOrStdout(), runs)
			return nil
		})
	},
}

var configInitOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file (.toml or .yaml by extension)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()
		w := config.NewWriter(configInitOutput)
		if err := w.Write(&cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", w.Path())
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	runsCmd.Flags().StringVarP(&runsSymbol, "symbol", "s", "", "filter by symbol")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "print JSON instead of a table")
	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "chartlens.toml", "output config file path")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(serveCmd, runsCmd, configCmd)
}
