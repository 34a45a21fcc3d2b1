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
	"strconv"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/polybridge/polybridge/api"
	"github.com/polybridge/polybridge/catalog"
	"github.com/polybridge/polybridge/table"
	"github.com/polybridge/polybridge/timeseries"
)

// Output layouts of AboveTimeseries.
const (
	FormatLong = "long"
	FormatWide = "wide"
)

// longColumns is the column order of the long layout.
var longColumns = []string{"timestamp", "relative_horizon", "strike", "probability", "market_id"}

// AboveQuery configures AboveTimeseries.
type AboveQuery struct {
	// Asset symbol, e.g. "BTC".
	Asset string `validate:"required"`
	// Start and End bound the half-open window [Start, End); both required.
	Start time.Time
	End   time.Time
	// Horizon of the markets to resolve.
	Horizon catalog.Horizon `default:"daily"`
	// Format selects the layout: "long" emits one row per (timestamp,
	// relative_horizon, strike); "wide" pivots strikes into columns.
	Format string `default:"long" validate:"oneof=long wide"`
	// ChunkSize is the maximum number of markets per request; 0 means the
	// client's configured default.
	ChunkSize int `validate:"gte=0"`
}

func (q *AboveQuery) init() error {
	if err := api.InitQuery(q); err != nil {
		return err
	}
	if q.Start.IsZero() || q.End.IsZero() {
		return api.Validationf("start_ts and end_ts are required")
	}
	if !q.Start.Before(q.End) {
		return api.Validationf("start_ts %s must be before end_ts %s",
			api.FormatTime(q.Start), api.FormatTime(q.End))
	}
	_, err := catalog.ResolveInterval(q.Horizon)
	return err
}

// strikeColumn names the wide-layout column of a strike, using its shortest
// decimal representation.
func strikeColumn(strike float64) string {
	return "strike_" + strconv.FormatFloat(strike, 'f', -1, 64)
}

// AboveTimeseries fetches the probability rows of above-strike markets for
// one asset and horizon. The long layout passes the rows through unchanged.
// The wide layout emits one row per (timestamp, relative_horizon) pair with
// one column per distinct strike observed anywhere in the result, sorted
// ascending; a strike absent for a given pair is left missing, since a
// missing probability is not a zero probability.
func AboveTimeseries(ctx context.Context, query *AboveQuery) (*table.Table, error) {
	q := *query
	if err := q.init(); err != nil {
		return nil, err
	}
	cat, err := catalog.Resolve(ctx, catalog.Filter{
		Assets:      []string{q.Asset},
		Horizons:    []catalog.Horizon{q.Horizon},
		MarketTypes: []catalog.MarketType{catalog.Above},
		Start:       q.Start,
		End:         q.End,
	})
	if err != nil {
		return nil, err
	}
	if len(cat) == 0 {
		if q.Format == FormatWide {
			return table.New("timestamp", "relative_horizon"), nil
		}
		return table.New(longColumns...), nil
	}
	responses, err := timeseries.Fetch(ctx, cat, &timeseries.Request{
		Blocks:    []timeseries.Block{timeseries.Probabilities},
		Start:     q.Start,
		End:       q.End,
		ChunkSize: q.ChunkSize,
	})
	if err != nil {
		return nil, err
	}
	var rows []table.Record
	for _, resp := range responses {
		if bd := resp.Blocks[timeseries.Probabilities]; bd != nil {
			rows = append(rows, bd.Rows...)
		}
	}
	if q.Format == FormatLong {
		return table.FromRecords(rows, longColumns...), nil
	}
	return pivotWide(rows), nil
}

// pairKey identifies one wide-layout row.
type pairKey struct {
	timestamp string
	horizon   string
}

// pivotWide reshapes long probability rows into one row per (timestamp,
// relative_horizon), keeping the rows' first-appearance order.
func pivotWide(rows []table.Record) *table.Table {
	var order []pairKey
	byPair := make(map[pairKey]table.Record)
	strikes := make(map[float64]struct{})
	for _, src := range rows {
		ts, ok := src["timestamp"].(string)
		if !ok {
			continue
		}
		rh, _ := src["relative_horizon"].(string)
		strike, ok := asFloat(src["strike"])
		if !ok {
			continue
		}
		key := pairKey{ts, rh}
		rec, ok := byPair[key]
		if !ok {
			rec = table.Record{"timestamp": ts, "relative_horizon": rh}
			byPair[key] = rec
			order = append(order, key)
		}
		rec[strikeColumn(strike)] = src["probability"]
		strikes[strike] = struct{}{}
	}

	columns := []string{"timestamp", "relative_horizon"}
	sorted := maps.Keys(strikes)
	slices.Sort(sorted)
	for _, s := range sorted {
		columns = append(columns, strikeColumn(s))
	}
	wide := make([]table.Record, len(order))
	for i, key := range order {
		wide[i] = byPair[key]
	}
	return table.FromRecords(wide, columns...)
}
