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
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/polybridge/polybridge/api"
	"github.com/polybridge/polybridge/catalog"
	"github.com/polybridge/polybridge/table"
	"github.com/polybridge/polybridge/timeseries"
)

// NestedQuery configures NestedTimeseries.
type NestedQuery struct {
	// Asset symbol, e.g. "BTC".
	Asset string `validate:"required"`
	// Horizon of the markets to resolve.
	Horizon catalog.Horizon `default:"daily"`
	// MarketTypes restricts the catalog; empty means all types.
	MarketTypes []catalog.MarketType
	// Start and End bound the half-open window [Start, End). When zero, End
	// defaults to now and Start to End minus Hours.
	Start time.Time
	End   time.Time
	// Hours of data to fetch when Start is not given.
	Hours float64 `default:"6" validate:"gt=0"`
	// Instrument selects the price source.
	Instrument string `default:"spot" validate:"oneof=spot perp"`
	// IncludeOpenInterest adds per-market open interest; nil means true.
	IncludeOpenInterest *bool `default:"true"`
	// IncludeFunding adds funding rates to the price observations.
	IncludeFunding bool
	// ChunkSize is the maximum number of markets per request; 0 means the
	// client's configured default.
	ChunkSize int `validate:"gte=0"`
}

// Point is one timestamp of a nested timeseries: the optional instrument
// price observation and the market-level rows observed at that timestamp,
// one per matching market.
type Point struct {
	Timestamp string
	Price     table.Record // nil when no price observation exists
	Markets   []table.Record
}

// NestedTimeseries fetches the requested blocks for the query's markets and
// groups all rows by timestamp, nesting each timestamp's market rows (with
// open interest merged in per market) and optional price observation under
// that timestamp. Timestamps are emitted in ascending order; a timestamp
// with no market rows is omitted entirely.
func NestedTimeseries(ctx context.Context, query *NestedQuery) ([]Point, error) {
	q := *query
	if err := api.InitQuery(&q); err != nil {
		return nil, err
	}
	if _, err := catalog.ResolveInterval(q.Horizon); err != nil {
		return nil, err
	}
	end := q.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start := q.Start
	if start.IsZero() {
		start = end.Add(-time.Duration(q.Hours * float64(time.Hour)))
	}
	if !start.Before(end) {
		return nil, api.Validationf("start_ts %s must be before end_ts %s",
			api.FormatTime(start), api.FormatTime(end))
	}

	cat, err := catalog.Resolve(ctx, catalog.Filter{
		Assets:      []string{q.Asset},
		Horizons:    []catalog.Horizon{q.Horizon},
		MarketTypes: q.MarketTypes,
		Start:       query.Start,
		End:         query.End,
	})
	if err != nil {
		return nil, err
	}
	if len(cat) == 0 {
		return []Point{}, nil
	}
	blocks := []timeseries.Block{timeseries.Probabilities, timeseries.Prices}
	if q.IncludeOpenInterest == nil || *q.IncludeOpenInterest {
		blocks = append(blocks, timeseries.OpenInterest)
	}
	responses, err := timeseries.Fetch(ctx, cat, &timeseries.Request{
		Blocks:         blocks,
		Start:          start,
		End:            end,
		Instrument:     q.Instrument,
		IncludeFunding: q.IncludeFunding,
		ChunkSize:      q.ChunkSize,
	})
	if err != nil {
		return nil, err
	}

	// catalog order decides the market order within a timestamp
	catIndex := make(map[string]int, len(cat))
	for i, d := range cat {
		catIndex[d.MarketID] = i
	}

	markets := make(map[string]map[string]table.Record) // timestamp -> market_id -> row
	prices := make(map[string]table.Record)             // timestamp -> price observation
	marketRow := func(ts, id string) table.Record {
		byID, ok := markets[ts]
		if !ok {
			byID = make(map[string]table.Record)
			markets[ts] = byID
		}
		rec, ok := byID[id]
		if !ok {
			rec = table.Record{"timestamp": ts, "market_id": id}
			byID[id] = rec
		}
		return rec
	}
	mergeRows := func(bd *timeseries.BlockData) {
		if bd == nil {
			return
		}
		for _, src := range bd.Rows {
			ts, ok := src["timestamp"].(string)
			if !ok {
				continue
			}
			id, ok := src["market_id"].(string)
			if !ok {
				continue
			}
			rec := marketRow(ts, id)
			for k, v := range src {
				rec[k] = v
			}
		}
	}
	for _, resp := range responses {
		mergeRows(resp.Blocks[timeseries.Probabilities])
		mergeRows(resp.Blocks[timeseries.OpenInterest])
		if bd := resp.Blocks[timeseries.Prices]; bd != nil {
			for _, src := range bd.Rows {
				ts, ok := src["timestamp"].(string)
				if !ok {
					continue
				}
				if _, ok := prices[ts]; !ok {
					prices[ts] = src
				}
			}
		}
	}

	stamps := maps.Keys(markets)
	slices.Sort(stamps)
	points := make([]Point, 0, len(stamps))
	for _, ts := range stamps {
		byID := markets[ts]
		ids := maps.Keys(byID)
		slices.SortFunc(ids, func(a, b string) bool {
			ia, oka := catIndex[a]
			ib, okb := catIndex[b]
			if oka && okb {
				return ia < ib
			}
			if oka != okb {
				return oka
			}
			return a < b
		})
		rows := make([]table.Record, len(ids))
		for i, id := range ids {
			rows[i] = byID[id]
		}
		points = append(points, Point{Timestamp: ts, Price: prices[ts], Markets: rows})
	}
	return points, nil
}
