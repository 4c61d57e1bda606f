package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"CryptoAgent/internal/di"
	"CryptoAgent/internal/domain/models"
	"CryptoAgent/internal/domain/repository"
	"CryptoAgent/internal/panel"
	"CryptoAgent/internal/surface"
	"CryptoAgent/internal/usecase"
	"CryptoAgent/pkg/config"
	"CryptoAgent/pkg/logger"

	"github.com/spf13/cobra"
)

var snapshot struct {
	symbol    string
	timeframe string
	timerange int
	format    string
	out       string
	width     int
	height    int
}

// snapshotCmd loads one panel without a server and writes the rendered chart to a file.
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Fetch one analysis and render it as PNG or SVG",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWithEnv(configPath)
		if err != nil {
			return fmt.Errorf("config load failed: %w", err)
		}
		format, err := surface.ParseFormat(snapshot.format)
		if err != nil {
			return err
		}
		tf := repository.Timeframe(strings.ToLower(snapshot.timeframe))
		if !repository.IsValidTimeframe(tf) {
			return fmt.Errorf("unsupported timeframe %q", snapshot.timeframe)
		}
		key := models.QueryKey{
			Symbol:    strings.ToUpper(strings.TrimSpace(snapshot.symbol)),
			Timeframe: string(tf),
			Lookback:  snapshot.timerange,
		}
		if err := key.Validate(); err != nil {
			return err
		}

		l, err := di.ProvideLogger(cfg)
		if err != nil {
			return err
		}
		m := repository.NopMetrics{}
		client := di.ProvideAnalysisClient(cfg, l, m)

		// Canvases without a hub: nothing is streamed and no refresher is scheduled.
		dash := usecase.NewDashboard(client, surface.NewFactory(nil),
			usecase.WithTimeout(cfg.Panel.FetchTimeout),
			usecase.WithLogger(l),
			usecase.WithPanelOptions(
				panel.WithRefreshInterval(0),
				panel.WithLogger(l),
			),
		)
		defer dash.Close()

		report, err := dash.Load(cmd.Context(), "snapshot", key)
		if err != nil {
			return fmt.Errorf("load %s: %w", key, err)
		}
		scene, err := dash.Scene("snapshot")
		if err != nil {
			return err
		}

		opts := surface.RenderOptions{Format: format, Width: snapshot.width, Height: snapshot.height}
		if opts.Width <= 0 {
			opts.Width = cfg.Render.Width
		}
		if opts.Height <= 0 {
			opts.Height = cfg.Render.Height
		}
		if err := writeSnapshot(snapshot.out, scene, opts); err != nil {
			return err
		}

		l.Info("snapshot written",
			logger.String("key", key.String()),
			logger.String("out", snapshot.out),
			logger.Int("candles", report.Candles),
			logger.Int("lines", report.Lines),
		)
		return nil
	},
}

func init() {
	f := snapshotCmd.Flags()
	f.StringVar(&snapshot.symbol, "symbol", "", "trading pair, e.g. BTCUSDT")
	f.StringVar(&snapshot.timeframe, "timeframe", string(repository.DefaultTimeframe()), "candle timeframe")
	f.IntVar(&snapshot.timerange, "timerange", models.MinimalLookback, "lookback window")
	f.StringVar(&snapshot.format, "format", string(surface.FormatPNG), "png or svg")
	f.StringVarP(&snapshot.out, "out", "o", "chart.png", "output file, - for stdout")
	f.IntVar(&snapshot.width, "width", 0, "image width in pixels (config default when 0)")
	f.IntVar(&snapshot.height, "height", 0, "image height in pixels (config default when 0)")
	_ = snapshotCmd.MarkFlagRequired("symbol")
}

func writeSnapshot(path string, scene models.Scene, opts surface.RenderOptions) error {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := surface.Render(w, scene, opts); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return nil
}
