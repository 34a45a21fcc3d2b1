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

// Package options implements specialized query builders layered on the
// catalog and timeseries packages: up-or-down options with rolling-window
// volatility metrics, above-strike options in long or wide layout, and a
// timestamp-nested timeseries.
package options

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/polybridge/polybridge/api"
	"github.com/polybridge/polybridge/catalog"
	"github.com/polybridge/polybridge/table"
	"github.com/polybridge/polybridge/timeseries"
)

// Relative horizon labels of the upstream probability rows.
const (
	relativeNext     = "next"
	relativeNextPlus = "next+1"
)

// defaultWindows are the rolling-window days of the options metrics.
var defaultWindows = []int{7, 30}

// UpOrDownQuery configures UpOrDownTimeseries.
type UpOrDownQuery struct {
	// Asset symbol, e.g. "BTC".
	Asset string `validate:"required"`
	// Start and End bound the half-open window [Start, End); both required.
	Start time.Time
	End   time.Time
	// Horizon of the markets to resolve.
	Horizon catalog.Horizon `default:"daily"`
	// WindowDays are the rolling windows of the metrics; empty means 7 and 30.
	WindowDays []int
	// ChunkSize is the maximum number of markets per request; 0 means the
	// client's configured default.
	ChunkSize int `validate:"gte=0"`
}

func (q *UpOrDownQuery) init() error {
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
	if _, err := catalog.ResolveInterval(q.Horizon); err != nil {
		return err
	}
	if len(q.WindowDays) == 0 {
		q.WindowDays = append([]int{}, defaultWindows...)
	}
	return nil
}

// upOrDownColumns is the fixed column order of the pivoted table.
func upOrDownColumns(windows []int) []string {
	cols := []string{"timestamp", "probability_next", "probability_next_plus_1"}
	for _, w := range windows {
		cols = append(cols,
			fmt.Sprintf("iv_%dd", w),
			fmt.Sprintf("rv_%dd", w),
			fmt.Sprintf("volatility_premium_%dd", w))
	}
	return cols
}

// UpOrDownTimeseries fetches up-or-down probabilities and options metrics
// for one asset and horizon, and pivots them client-side into one row per
// distinct timestamp, ordered ascending. Each row carries the "next" and
// "next+1" market probabilities and, per rolling window, the implied and
// realized volatility and their difference as volatility_premium. A
// timestamp present in one block but absent in the other keeps its row with
// the absent cells missing.
func UpOrDownTimeseries(ctx context.Context, query *UpOrDownQuery) (*table.Table, error) {
	q := *query
	if err := q.init(); err != nil {
		return nil, err
	}
	cat, err := catalog.Resolve(ctx, catalog.Filter{
		Assets:      []string{q.Asset},
		Horizons:    []catalog.Horizon{q.Horizon},
		MarketTypes: []catalog.MarketType{catalog.UpOrDown},
		Start:       q.Start,
		End:         q.End,
	})
	if err != nil {
		return nil, err
	}
	columns := upOrDownColumns(q.WindowDays)
	if len(cat) == 0 {
		return table.New(columns...), nil
	}
	responses, err := timeseries.Fetch(ctx, cat, &timeseries.Request{
		Blocks:    []timeseries.Block{timeseries.Probabilities, timeseries.OptionsMetrics},
		Start:     q.Start,
		End:       q.End,
		ChunkSize: q.ChunkSize,
	})
	if err != nil {
		return nil, err
	}

	byStamp := make(map[string]table.Record)
	row := func(ts string) table.Record {
		rec, ok := byStamp[ts]
		if !ok {
			rec = table.Record{"timestamp": ts}
			byStamp[ts] = rec
		}
		return rec
	}
	for _, resp := range responses {
		if bd := resp.Blocks[timeseries.Probabilities]; bd != nil {
			for _, src := range bd.Rows {
				ts, ok := src["timestamp"].(string)
				if !ok {
					continue
				}
				rec := row(ts)
				switch src["relative_horizon"] {
				case relativeNext:
					rec["probability_next"] = src["probability"]
				case relativeNextPlus:
					rec["probability_next_plus_1"] = src["probability"]
				}
			}
		}
		if bd := resp.Blocks[timeseries.OptionsMetrics]; bd != nil {
			for _, src := range bd.Rows {
				ts, ok := src["timestamp"].(string)
				if !ok {
					continue
				}
				rec := row(ts)
				for _, w := range q.WindowDays {
					ivKey := fmt.Sprintf("iv_%dd", w)
					rvKey := fmt.Sprintf("rv_%dd", w)
					iv, hasIV := asFloat(src[ivKey])
					rv, hasRV := asFloat(src[rvKey])
					if hasIV {
						rec[ivKey] = iv
					}
					if hasRV {
						rec[rvKey] = rv
					}
					if hasIV && hasRV {
						rec[fmt.Sprintf("volatility_premium_%dd", w)] = iv - rv
					}
				}
			}
		}
	}

	stamps := maps.Keys(byStamp)
	slices.Sort(stamps) // ISO-8601 sorts chronologically
	rows := make([]table.Record, len(stamps))
	for i, ts := range stamps {
		rows[i] = byStamp[ts]
	}
	return table.FromRecords(rows, columns...), nil
}

// asFloat extracts a numeric cell value; JSON numbers decode as float64.
func asFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	}
	return 0, false
}
