package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/scott-cotton/cli"

	"go-cube-explorer/internal/config"
	"go-cube-explorer/internal/connectors/index"
	"go-cube-explorer/internal/connectors/summarystore"
	"go-cube-explorer/internal/logs"
	"go-cube-explorer/internal/summary"
)

type genConfig struct {
	*cli.Command

	All             bool   `cli:"name=all desc='generate every product in the index'"`
	Verbose         bool   `cli:"name=v aliases=verbose desc='log debug output'"`
	Jobs            int    `cli:"name=j aliases=jobs desc='products generated concurrently'"`
	EventLog        string `cli:"name=l aliases=event-log desc='append one JSON line per product to this file'"`
	RefreshStats    bool   `cli:"name=refresh-stats desc='recompute overviews even when no datasets were added'"`
	ForceRefresh    bool   `cli:"name=force-refresh desc='refresh products regardless of their last refresh time'"`
	RecreateExtents bool   `cli:"name=recreate-dataset-extents desc='rebuild the dataset extent table of each product'"`
	InitDatabase    bool   `cli:"name=init-database desc='create the summary schema'"`
	DropDatabase    bool   `cli:"name=drop-database desc='drop the summary schema first'"`
}

func genCommand(ctx context.Context) *cli.Command {
	cfg := &genConfig{}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Command, "explorer-gen").
		WithSynopsis("explorer-gen [--all | product...] [opts]").
		WithDescription("refresh dataset extents and pre-compute time period summaries for the explorer").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return cfg.run(ctx, cc, args)
		})
}

// event is one line of the event log.
type event struct {
	Product      string    `json:"product"`
	OK           bool      `json:"ok"`
	DatasetCount int64     `json:"dataset_count"`
	Added        int       `json:"added"`
	DurationSec  float64   `json:"duration_seconds"`
	Error        string    `json:"error,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
	Version      string    `json:"version"`
}

func (cfg *genConfig) run(ctx context.Context, cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	if cfg.All && len(args) > 0 {
		return fmt.Errorf("%w: --all and product names are exclusive", cli.ErrUsage)
	}
	if !cfg.All && len(args) == 0 && !cfg.InitDatabase && !cfg.DropDatabase {
		return fmt.Errorf("%w: name products to generate or pass --all", cli.ErrUsage)
	}

	appCfg := config.FromEnv()
	level := appCfg.LogLevel
	if cfg.Verbose {
		level = "debug"
	}
	logger := logs.New(os.Stderr, level, appCfg.LogFormat)

	store, err := summarystore.NewSQLiteStore(appCfg.SummarySQLitePath, appCfg.SummaryQueryTimeout)
	if err != nil {
		return fmt.Errorf("open summary store: %w", err)
	}
	defer store.Close()

	if cfg.DropDatabase {
		logger.Info("dropping summary schema", "path", appCfg.SummarySQLitePath)
		if err := store.Drop(ctx); err != nil {
			return fmt.Errorf("drop summary schema: %w", err)
		}
	}
	if cfg.InitDatabase || cfg.DropDatabase {
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init summary schema: %w", err)
		}
	}
	if !cfg.All && len(args) == 0 {
		return nil
	}

	idx, err := index.NewStore(appCfg)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.Close()

	products := args
	if cfg.All {
		products, err = idx.ProductNames(ctx)
		if err != nil {
			return fmt.Errorf("list index products: %w", err)
		}
	}

	var events io.Writer
	if cfg.EventLog != "" {
		f, err := os.OpenFile(cfg.EventLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer f.Close()
		events = f
	}

	workers := cfg.Jobs
	if workers <= 0 {
		workers = appCfg.GenWorkers
	}
	gen := summary.NewGenerator(idx, store, summary.Options{
		Location:         appCfg.Location(),
		RefreshOlderThan: appCfg.GenRefreshOlderThan,
		ExtentBatchSize:  appCfg.GenExtentBatchSize,
		LinkedSampleSize: appCfg.LinkedProductSampleSize,
		Workers:          workers,
		Logger:           logger,
	})

	ro := summary.RunOptions{
		ForceRefresh:    cfg.ForceRefresh,
		RecreateExtents: cfg.RecreateExtents,
		RefreshStats:    cfg.RefreshStats,
	}
	logger.Info("generating", "products", len(products), "workers", workers, "version", version)
	start := time.Now()
	completed, failures := gen.Run(ctx, products, ro, reporter(cc.Out, events, logger))

	if completed > 0 {
		if _, err := gen.Update(ctx, summary.Key{}, false); err != nil {
			logger.Error("all-products summary failed", "err", err)
			failures++
		}
	}

	summaryLine := fmt.Sprintf("%d completed, %d failed in %s", completed, failures, time.Since(start).Round(time.Millisecond))
	if failures > 0 {
		fmt.Fprintln(cc.Out, color.RedString(summaryLine))
		return cli.ExitCodeErr(1)
	}
	fmt.Fprintln(cc.Out, color.GreenString(summaryLine))
	return nil
}

// reporter prints one coloured line per finished product and appends it to
// the event log.
func reporter(out, events io.Writer, logger *slog.Logger) func(summary.Result) {
	enc := json.NewEncoder(io.Discard)
	if events != nil {
		enc = json.NewEncoder(events)
	}
	return func(res summary.Result) {
		took := res.Duration.Round(time.Millisecond)
		if res.Err != nil {
			fmt.Fprintf(out, "%s %s: %v (%s)\n", color.RedString("FAIL"), res.Product, res.Err, took)
		} else {
			fmt.Fprintf(out, "%s %s: %s datasets, %s new (%s)\n", color.GreenString("ok"),
				color.CyanString(res.Product), humanize.Comma(res.DatasetCount), humanize.Comma(int64(res.Added)), took)
		}

		ev := event{
			Product:      res.Product,
			OK:           res.Err == nil,
			DatasetCount: res.DatasetCount,
			Added:        res.Added,
			DurationSec:  res.Duration.Seconds(),
			FinishedAt:   time.Now().UTC(),
			Version:      version,
		}
		if res.Err != nil {
			ev.Error = res.Err.Error()
		}
		if err := enc.Encode(ev); err != nil {
			logger.Warn("write event log", "err", err)
		}
	}
}
