// Copyright 2025 Polybridge

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/polybridge/polybridge/api"
	"github.com/polybridge/polybridge/catalog"
	"github.com/polybridge/polybridge/table"
	"github.com/polybridge/polybridge/timeseries"

	toml "github.com/pelletier/go-toml/v2"
)

type Flags struct {
	Config      string // path to the TOML config file
	Asset       string // required
	Horizons    string // comma-separated, default: daily
	MarketTypes string // comma-separated, default: all
	Blocks      string // comma-separated, default: probabilities,prices,open_interest
	Hours       float64
	Start       string // ISO-8601; default: End - Hours
	End         string // ISO-8601; default: now
	Table       string // table to print; empty lists the available tables
	CSV         bool   // print the table in CSV format; default: text
	Summary     bool   // print per-column numeric summaries
	LogLevel    logging.Level
}

func parseFlags(args []string) (*Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("polybridge-fetch", flag.ExitOnError)
	fs.StringVar(&flags.Config, "config",
		filepath.Join(os.Getenv("HOME"), ".polybridge", "config.toml"),
		"path to the config file")
	fs.StringVar(&flags.Asset, "asset", "", "asset symbol, e.g. BTC (required)")
	fs.StringVar(&flags.Horizons, "horizons", "daily",
		"comma-separated horizons: daily, weekly, monthly, yearly")
	fs.StringVar(&flags.MarketTypes, "market-types", "",
		"comma-separated market types: up-or-down, above")
	fs.StringVar(&flags.Blocks, "blocks", "",
		"comma-separated blocks: probabilities, prices, open_interest, options_metrics")
	fs.Float64Var(&flags.Hours, "hours", 6.0, "hours of data when -start is not given")
	fs.StringVar(&flags.Start, "start", "", "window start, ISO-8601")
	fs.StringVar(&flags.End, "end", "", "window end, ISO-8601")
	fs.StringVar(&flags.Table, "table", "",
		"table to print; when empty, lists the available tables")
	fs.BoolVar(&flags.CSV, "csv", false, "print the table in CSV format; default: text")
	fs.BoolVar(&flags.Summary, "summary", false,
		"print count/mean/stddev/min/max for each numeric column")
	flags.LogLevel = logging.Info
	fs.Var(&flags.LogLevel, "log-level", "Log level: debug, info, warning, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if flags.Asset == "" {
		return nil, errors.Reason("missing required -asset argument")
	}
	return &flags, nil
}

type Config struct {
	Key       string `toml:"key"`        // Polybridge API key
	BaseURL   string `toml:"base_url"`   // empty: production endpoint
	Timeout   int    `toml:"timeout"`    // seconds; 0: default 60
	ChunkSize int    `toml:"chunk_size"` // markets per request; 0: default 10
}

func parseConfig(filePath string) (*Config, error) {
	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			sample := `key = "YourSecretPolybridgeKey"
`
			return nil, errors.Annotate(err,
				"config file '%s' does not exist.\nPlease create a config file containing:\n%s",
				filePath, sample)
		}
		return nil, errors.Annotate(err,
			"cannot check config file for existence: '%s'", filePath)
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open config file %s", filePath)
	}
	defer f.Close()

	d := toml.NewDecoder(f)
	var c Config
	if err := d.Decode(&c); err != nil {
		return nil, errors.Annotate(err, "failed to read config file %s", filePath)
	}
	return &c, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func buildQuery(flags *Flags) (*timeseries.Query, error) {
	q := timeseries.Query{Asset: flags.Asset, Hours: flags.Hours}
	for _, h := range splitList(flags.Horizons) {
		q.Horizons = append(q.Horizons, catalog.Horizon(h))
	}
	for _, m := range splitList(flags.MarketTypes) {
		q.MarketTypes = append(q.MarketTypes, catalog.MarketType(m))
	}
	for _, b := range splitList(flags.Blocks) {
		block, err := timeseries.ParseBlock(b)
		if err != nil {
			return nil, err
		}
		q.Blocks = append(q.Blocks, block)
	}
	var err error
	if flags.Start != "" {
		if q.Start, err = api.ParseTime(flags.Start); err != nil {
			return nil, err
		}
	}
	if flags.End != "" {
		if q.End, err = api.ParseTime(flags.End); err != nil {
			return nil, err
		}
	}
	return &q, nil
}

func printSummary(w io.Writer, tbl *table.Table) {
	for _, col := range tbl.Columns {
		fs := tbl.Floats(col)
		if len(fs) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s: n=%d mean=%.6g stddev=%.6g min=%.6g max=%.6g\n",
			col, len(fs), stat.Mean(fs, nil), stat.StdDev(fs, nil),
			floats.Min(fs), floats.Max(fs))
	}
}

func run(ctx context.Context, flags *Flags, w io.Writer) error {
	config, err := parseConfig(flags.Config)
	if err != nil {
		return errors.Annotate(err, "failed to parse config")
	}
	client, err := api.New(config.Key, &api.Config{
		BaseURL:   config.BaseURL,
		Timeout:   config.Timeout,
		ChunkSize: config.ChunkSize,
	})
	if err != nil {
		return errors.Annotate(err, "failed to create client")
	}
	ctx = api.UseClient(ctx, client)

	query, err := buildQuery(flags)
	if err != nil {
		return err
	}
	res, err := timeseries.FetchTimeseries(ctx, query)
	if err != nil {
		return errors.Annotate(err, "failed to fetch timeseries")
	}
	if flags.Table == "" {
		names := make([]string, 0, len(res.Tables))
		for name := range res.Tables {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(w, "%d markets in catalog\n", len(res.Catalog))
		for _, name := range names {
			fmt.Fprintf(w, "%s: %d rows\n", name, res.Tables[name].NumRows())
		}
		return nil
	}
	tbl, ok := res.Tables[flags.Table]
	if !ok {
		return errors.Reason("no table '%s' in the result", flags.Table)
	}
	if flags.CSV {
		if err := tbl.WriteCSV(w, table.Params{}); err != nil {
			return errors.Annotate(err, "failed to print CSV")
		}
	} else {
		if err := tbl.WriteText(w, table.Params{}); err != nil {
			return errors.Annotate(err, "failed to print text")
		}
	}
	if flags.Summary {
		printSummary(w, tbl)
	}
	return nil
}

func main() {
	ctx := context.Background()
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		ctx = logging.Use(ctx, logging.DefaultGoLogger(logging.Info))
		logging.Errorf(ctx, "failed to parse flags: %s", err.Error())
		os.Exit(1)
	}
	ctx = logging.Use(ctx, logging.DefaultGoLogger(flags.LogLevel))

	if err := run(ctx, flags, os.Stdout); err != nil {
		logging.Errorf(ctx, err.Error())
		os.Exit(1)
	}
}
