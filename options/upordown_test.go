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

package options

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/testutil"

	"github.com/polybridge/polybridge/api"
)

func testContext(server *api.TestServer) (context.Context, error) {
	client, err := api.New("testkey", &api.Config{BaseURL: server.URL()})
	if err != nil {
		return nil, err
	}
	ctx := logging.Use(context.Background(), logging.DefaultGoLogger(logging.Info))
	return api.UseClient(ctx, client), nil
}

var (
	testStart = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	testEnd   = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
)

func TestUpOrDownTimeseries(t *testing.T) {
	t.Parallel()

	catalogBody := `{"markets": [
  {"asset": "BTC", "horizon": "daily", "market_type": "up-or-down", "market_id": "m1"},
  {"asset": "BTC", "horizon": "daily", "market_type": "up-or-down", "market_id": "m2"}
]}`
	mergedBody := `{
  "probabilities": {
    "columns": ["timestamp", "market_id", "relative_horizon", "probability"],
    "rows": [
      {"timestamp": "2024-05-01T01:00:00Z", "market_id": "m2",
       "relative_horizon": "next+1", "probability": 0.6},
      {"timestamp": "2024-05-01T01:00:00Z", "market_id": "m1",
       "relative_horizon": "next", "probability": 0.55},
      {"timestamp": "2024-05-01T00:00:00Z", "market_id": "m1",
       "relative_horizon": "next", "probability": 0.52}
    ]
  },
  "options_metrics": {
    "columns": ["timestamp", "iv_7d", "rv_7d", "iv_30d", "rv_30d"],
    "rows": [
      {"timestamp": "2024-05-01T00:00:00Z",
       "iv_7d": 0.5, "rv_7d": 0.3, "iv_30d": 0.45, "rv_30d": 0.4},
      {"timestamp": "2024-05-01T02:00:00Z", "iv_7d": 0.48}
    ]
  }
}`

	Convey("UpOrDownTimeseries", t, func() {
		server := api.NewTestServer()
		defer server.Close()
		ctx, err := testContext(server)
		So(err, ShouldBeNil)
		query := &UpOrDownQuery{Asset: "BTC", Start: testStart, End: testEnd}

		Convey("pivots probabilities and metrics by timestamp", func() {
			server.ResponseBody = []string{catalogBody, mergedBody}
			tbl, err := UpOrDownTimeseries(ctx, query)
			So(err, ShouldBeNil)
			So(server.NumRequests(), ShouldEqual, 2)
			So(server.Queries[0]["market_types"], ShouldResemble,
				[]string{"up-or-down"})
			So(server.Queries[1]["blocks"], ShouldResemble,
				[]string{"probabilities", "options_metrics"})

			So(tbl.Columns, ShouldResemble, []string{
				"timestamp", "probability_next", "probability_next_plus_1",
				"iv_7d", "rv_7d", "volatility_premium_7d",
				"iv_30d", "rv_30d", "volatility_premium_30d"})
			So(tbl.NumRows(), ShouldEqual, 3)

			// Rows are ordered by timestamp ascending.
			So(tbl.Rows[0]["timestamp"], ShouldEqual, "2024-05-01T00:00:00Z")
			So(tbl.Rows[1]["timestamp"], ShouldEqual, "2024-05-01T01:00:00Z")
			So(tbl.Rows[2]["timestamp"], ShouldEqual, "2024-05-01T02:00:00Z")

			So(tbl.Rows[0]["probability_next"], ShouldEqual, 0.52)
			So(testutil.Round(tbl.Rows[0]["volatility_premium_7d"].(float64), 4),
				ShouldEqual, 0.2)
			So(testutil.Round(tbl.Rows[0]["volatility_premium_30d"].(float64), 4),
				ShouldEqual, 0.05)

			So(tbl.Rows[1]["probability_next"], ShouldEqual, 0.55)
			So(tbl.Rows[1]["probability_next_plus_1"], ShouldEqual, 0.6)
			_, hasIV := tbl.Rows[1]["iv_7d"]
			So(hasIV, ShouldBeFalse)

			// A metrics-only timestamp keeps its row, probabilities missing.
			So(tbl.Rows[2]["iv_7d"], ShouldEqual, 0.48)
			_, hasRV := tbl.Rows[2]["rv_7d"]
			So(hasRV, ShouldBeFalse)
			_, hasPremium := tbl.Rows[2]["volatility_premium_7d"]
			So(hasPremium, ShouldBeFalse)
		})

		Convey("custom windows change the metric columns", func() {
			server.ResponseBody = []string{catalogBody, mergedBody}
			q := *query
			q.WindowDays = []int{7}
			tbl, err := UpOrDownTimeseries(ctx, &q)
			So(err, ShouldBeNil)
			So(tbl.Columns, ShouldResemble, []string{
				"timestamp", "probability_next", "probability_next_plus_1",
				"iv_7d", "rv_7d", "volatility_premium_7d"})
		})

		Convey("an empty catalog yields an empty table", func() {
			server.ResponseBody = []string{`{"markets": []}`}
			tbl, err := UpOrDownTimeseries(ctx, query)
			So(err, ShouldBeNil)
			So(server.NumRequests(), ShouldEqual, 1)
			So(tbl.NumRows(), ShouldEqual, 0)
			So(len(tbl.Columns), ShouldEqual, 9)
		})

		Convey("requires the window bounds", func() {
			_, err := UpOrDownTimeseries(ctx, &UpOrDownQuery{Asset: "BTC"})
			_, ok := err.(*api.ValidationError)
			So(ok, ShouldBeTrue)
			So(server.NumRequests(), ShouldEqual, 0)
		})

		Convey("rejects an unknown horizon", func() {
			q := *query
			q.Horizon = "hourly"
			_, err := UpOrDownTimeseries(ctx, &q)
			_, ok := err.(*api.UnknownHorizonError)
			So(ok, ShouldBeTrue)
		})
	})
}
