package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/stwalsh4118/featuresync/internal/services"
)

type loadOptions struct {
	format string
	out    string
	sinks  []string
}

func newLoadCmd() *cobra.Command {
	opts := &loadOptions{}

	cmd := &cobra.Command{
		Use:   "load full|incremental",
		Short: "Fetch features from the layer and write them out",
		Long: `Fetch features from the configured layer.

A full load fetches everything matching QUERY_WHERE. An incremental load only
fetches features whose INCREMENTAL_FIELD is above the stored watermark. Both
record the last identifier they observed.

Examples:
  # Replace the PostGIS table with the whole layer
  featuresync load full --sink postgis

  # Append new features to files
  featuresync load incremental --sink csv:out/stores.csv --sink geojson:out/stores.geojson

  # Dump the raw feature array
  featuresync load incremental --format json --out out/features.json`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(services.ModeFull), string(services.ModeIncremental)},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := services.ParseMode(args[0])
			if err != nil {
				return err
			}
			return runLoad(cmd, mode, opts)
		},
	}

	cmd.Flags().StringVar(&opts.format, "format", string(services.FormatTable), "result shape: table or json")
	cmd.Flags().StringVar(&opts.out, "out", "", "file for --format json output (default stdout)")
	cmd.Flags().StringArrayVar(&opts.sinks, "sink", nil, "sink target kind[:path], repeatable (default DEFAULT_SINKS)")

	return cmd
}

func runLoad(cmd *cobra.Command, mode services.Mode, opts *loadOptions) error {
	format := services.Format(opts.format)
	if format != services.FormatJSON && format != services.FormatTable {
		return fmt.Errorf("invalid format %q: use table or json", opts.format)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	var report *services.Report
	if format == services.FormatJSON {
		if len(opts.sinks) > 0 {
			a.log.Warn("Sinks are ignored for json output", map[string]interface{}{
				"sinks": opts.sinks,
			})
		}
		report, err = loadJSON(ctx, a, mode, opts.out, cmd.OutOrStdout())
	} else {
		report, err = loadTable(ctx, a, mode, opts.sinks, cmd.OutOrStdout())
	}

	if report == nil {
		if err != nil {
			a.log.Error("Load did not run", err, map[string]interface{}{
				"mode": mode,
			})
			return errLoadFailed
		}
		return nil
	}
	if report.Failed() || err != nil {
		a.log.Error("Load failed", err, map[string]interface{}{
			"run_id":  report.RunID,
			"outcome": report.Outcome,
		})
		return errLoadFailed
	}
	return nil
}

func loadJSON(ctx context.Context, a *app, mode services.Mode, out string, stdout io.Writer) (*services.Report, error) {
	load := a.service.FullLoadAsJSON
	if mode == services.ModeIncremental {
		load = a.service.IncrementalLoadAsJSON
	}

	data, report, err := load(ctx)
	if data == nil {
		return report, err
	}

	if out == "" {
		_, werr := stdout.Write(append(data, '\n'))
		return report, werr
	}
	if dir := filepath.Dir(out); dir != "." {
		if merr := os.MkdirAll(dir, 0o755); merr != nil {
			return report, fmt.Errorf("failed to create output directory: %w", merr)
		}
	}
	if werr := atomic.WriteFile(out, bytes.NewReader(data)); werr != nil {
		a.log.Error("Error saving data", werr, map[string]interface{}{
			"path": out,
		})
		report.Errors = append(report.Errors, werr.Error())
		report.Outcome = services.OutcomePartial
		return report, werr
	}
	a.log.Info("Data saved", map[string]interface{}{
		"path":  out,
		"bytes": len(data),
	})
	return report, err
}

func loadTable(ctx context.Context, a *app, mode services.Mode, sinkArgs []string, stdout io.Writer) (*services.Report, error) {
	if len(sinkArgs) == 0 {
		sinkArgs = a.cfg.Load.DefaultSinks
	}

	var (
		report *services.Report
		err    error
	)
	if len(sinkArgs) == 0 {
		a.log.Warn("No sinks configured; the table is not saved", nil)
		load := a.service.FullLoadAsTable
		if mode == services.ModeIncremental {
			load = a.service.IncrementalLoadAsTable
		}
		_, report, err = load(ctx)
	} else {
		writers, werr := a.writers(ctx, sinkArgs)
		if werr != nil {
			return nil, werr
		}
		report, err = a.service.Run(ctx, mode, writers)
	}

	if report != nil {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if eerr := enc.Encode(report); eerr != nil {
			a.log.Error("Failed to print report", eerr, nil)
		}
	}
	return report, err
}
