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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stockparfait/logging"

	"github.com/polybridge/polybridge/api"
	"github.com/polybridge/polybridge/catalog"
	"github.com/polybridge/polybridge/timeseries"
)

func TestFlags(t *testing.T) {
	t.Parallel()

	Convey("parseFlags", t, func() {
		Convey("requires -asset", func() {
			_, err := parseFlags([]string{})
			So(err, ShouldNotBeNil)
		})

		Convey("fills in defaults", func() {
			flags, err := parseFlags([]string{"-asset", "BTC"})
			So(err, ShouldBeNil)
			So(flags.Horizons, ShouldEqual, "daily")
			So(flags.Hours, ShouldEqual, 6.0)
			So(flags.CSV, ShouldBeFalse)
			So(flags.LogLevel, ShouldEqual, logging.Info)
		})
	})

	Convey("buildQuery", t, func() {
		Convey("translates list flags", func() {
			q, err := buildQuery(&Flags{
				Asset:       "BTC",
				Horizons:    "daily, weekly",
				MarketTypes: "up-or-down",
				Blocks:      "probabilities,prices",
				Hours:       2.0,
				Start:       "2024-05-01T00:00:00Z",
				End:         "2024-05-02T00:00:00Z",
			})
			So(err, ShouldBeNil)
			So(q.Horizons, ShouldResemble,
				[]catalog.Horizon{catalog.Daily, catalog.Weekly})
			So(q.MarketTypes, ShouldResemble,
				[]catalog.MarketType{catalog.UpOrDown})
			So(q.Blocks, ShouldResemble,
				[]timeseries.Block{timeseries.Probabilities, timeseries.Prices})
			So(q.Start.IsZero(), ShouldBeFalse)
			So(q.End.IsZero(), ShouldBeFalse)
		})

		Convey("rejects an unknown block", func() {
			_, err := buildQuery(&Flags{Asset: "BTC", Blocks: "volume"})
			So(err, ShouldNotBeNil)
		})

		Convey("rejects a malformed timestamp", func() {
			_, err := buildQuery(&Flags{Asset: "BTC", Start: "yesterday"})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestRun(t *testing.T) {
	t.Parallel()

	catalogBody := `{"markets": [
  {"asset": "BTC", "horizon": "daily", "market_type": "up-or-down", "market_id": "m1"}
]}`
	mergedBody := `{
  "probabilities": {
    "columns": ["timestamp", "market_id", "probability"],
    "rows": [
      {"timestamp": "2024-05-01T00:00:00Z", "market_id": "m1", "probability": 0.4},
      {"timestamp": "2024-05-01T00:05:00Z", "market_id": "m1", "probability": 0.6}
    ]
  }
}`

	Convey("run", t, func() {
		tmpdir, tmpdirErr := os.MkdirTemp("", "test_run")
		So(tmpdirErr, ShouldBeNil)
		defer os.RemoveAll(tmpdir)

		server := api.NewTestServer()
		defer server.Close()
		server.ResponseBody = []string{catalogBody, mergedBody}

		confPath := filepath.Join(tmpdir, "config.toml")
		conf := `key = "testkey"
base_url = "` + server.URL() + `"
`
		So(os.WriteFile(confPath, []byte(conf), 0644), ShouldBeNil)

		ctx := logging.Use(context.Background(),
			logging.DefaultGoLogger(logging.Info))
		flags := &Flags{
			Config:   confPath,
			Asset:    "BTC",
			Horizons: "daily",
			Blocks:   "probabilities",
			Hours:    6.0,
		}

		Convey("lists the tables by default", func() {
			var buf bytes.Buffer
			So(run(ctx, flags, &buf), ShouldBeNil)
			So(server.NumRequests(), ShouldEqual, 2)
			So(buf.String(), ShouldEqual,
				"1 markets in catalog\nprobabilities: 2 rows\n")
		})

		Convey("prints a table as CSV", func() {
			flags.Table = "probabilities"
			flags.CSV = true
			var buf bytes.Buffer
			So(run(ctx, flags, &buf), ShouldBeNil)
			So(buf.String(), ShouldEqual,
				`timestamp,market_id,probability
2024-05-01T00:00:00Z,m1,0.4
2024-05-01T00:05:00Z,m1,0.6
`)
		})

		Convey("appends numeric summaries on request", func() {
			flags.Table = "probabilities"
			flags.CSV = true
			flags.Summary = true
			var buf bytes.Buffer
			So(run(ctx, flags, &buf), ShouldBeNil)
			So(buf.String(), ShouldContainSubstring,
				"probability: n=2 mean=0.5")
			So(buf.String(), ShouldContainSubstring, "min=0.4 max=0.6")
		})

		Convey("fails on an unknown table", func() {
			flags.Table = "prices"
			var buf bytes.Buffer
			So(run(ctx, flags, &buf), ShouldNotBeNil)
		})

		Convey("fails without a config file", func() {
			flags.Config = filepath.Join(tmpdir, "nonexistent.toml")
			var buf bytes.Buffer
			err := run(ctx, flags, &buf)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "does not exist")
		})
	})
}
