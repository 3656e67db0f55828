// Package main implements the layer CLI, which derives the map layer of a
// single-map panel from a set of dashboard variables and prints it.
//
// It is meant for checking dataset ids and stretches against the tile server
// without a dashboard:
//
//	go run ./cmd/tools/layer --var metric=bias --var product=precip --var lead=week2
//	go run ./cmd/tools/layer --var metric=mae --var time_filter=M01 --var time_filter=M02 --dry-run
//	go run ./cmd/tools/layer --var metric=bias --vmin=-2 --vmax=2
//
// The tile server is read from TILE_SERVER_BASE_URL (or .env via godotenv).
// With --dry-run only the dataset id and params are printed; no request is
// made.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"evalmap/internal/config"
	"evalmap/internal/dataset"
	"evalmap/internal/external"
	"evalmap/internal/panel"
)

// varFlags collects repeated --var name=value pairs. A repeated name
// accumulates values, the way a multi-select dashboard variable does.
type varFlags dataset.Variables

func (v varFlags) String() string {
	parts := make([]string, 0, len(v))
	for name, values := range v {
		parts = append(parts, name+"="+strings.Join(values, ","))
	}
	return strings.Join(parts, " ")
}

func (v varFlags) Set(raw string) error {
	name, value, ok := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", raw)
	}
	v[name] = append(v[name], value)
	return nil
}

type options struct {
	vars   dataset.Variables
	family string
	vmin   string
	vmax   string
	dryRun bool
}

var errUsage = errors.New("usage")

func parseArgs(args []string, stderr io.Writer) (options, error) {
	opts := options{vars: dataset.Variables{}}
	fs := flag.NewFlagSet("layer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Var(varFlags(opts.vars), "var", "Dashboard variable as name=value (repeatable)")
	fs.StringVar(&opts.family, "family", "", "Dataset family: metric or grouped_metric (default grouped_metric)")
	fs.StringVar(&opts.vmin, "vmin", "", "Stretch minimum override")
	fs.StringVar(&opts.vmax, "vmax", "", "Stretch maximum override")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Print the dataset id and params without contacting the tile server")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: layer [flags]\n\n")
		fmt.Fprintf(stderr, "Derive the map layer for a set of dashboard variables.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return options{}, errUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "error: unexpected arguments %v\n\n", fs.Args())
		fs.Usage()
		return options{}, errUsage
	}
	switch opts.family {
	case "", dataset.FamilyMetric, dataset.FamilyGroupedMetric:
	default:
		fmt.Fprintf(stderr, "error: unknown --family %q\n\n", opts.family)
		return options{}, errUsage
	}
	return opts, nil
}

// dryRunOutput is printed with --dry-run.
type dryRunOutput struct {
	DatasetID string            `json:"dataset_id"`
	Params    dataset.Params    `json:"params"`
	Dates     dataset.DateRange `json:"dates"`
}

// layerOutput is printed otherwise.
type layerOutput struct {
	panel.Layer
	Metric panel.MetricInfo `json:"metric"`
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var fetcher external.MetadataFetcher
	if !opts.dryRun {
		cfg, err := config.LoadConfig(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: loading configuration: %v\n", err)
			os.Exit(1)
		}
		fetcher = external.NewClientRegistry(cfg, logger).Tiles
	}

	if err := run(ctx, opts, fetcher, os.Stdout, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run derives the layer for opts and writes it to out as indented JSON.
func run(ctx context.Context, opts options, fetcher external.MetadataFetcher, out io.Writer, logger *slog.Logger) error {
	params := panel.SingleParams(opts.vars, opts.family)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)

	if opts.dryRun {
		return enc.Encode(dryRunOutput{
			DatasetID: dataset.BuildID(params),
			Params:    params,
			Dates:     dataset.ResolveDates(params.Family()),
		})
	}
	if fetcher == nil {
		return errors.New("no tile server configured")
	}

	layer, err := panel.NewPipeline(fetcher, 1, logger).BuildLayer(ctx, params, opts.vmin, opts.vmax)
	if err != nil {
		return fmt.Errorf("building layer: %w", err)
	}
	if layer.Status != panel.StatusReady {
		logger.Warn("layer has no stretch", "dataset_id", layer.DatasetID, "status", string(layer.Status))
	}
	return enc.Encode(layerOutput{
		Layer:  layer,
		Metric: panel.DescribeMetric(params.Metric, params.Product),
	})
}
