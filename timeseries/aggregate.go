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

package timeseries

import (
	"context"
	"time"

	"github.com/stockparfait/errors"

	"github.com/polybridge/polybridge/api"
	"github.com/polybridge/polybridge/catalog"
	"github.com/polybridge/polybridge/table"
)

// Aggregate transforms per-interval responses into named tables, one per
// (interval, block). With a single interval the table is named after the
// block alone; otherwise the interval is appended as a suffix, and no merge
// across intervals is ever attempted. Row order is preserved from the
// responses (chunk order, then within-chunk order). Rows referencing a
// market absent from the catalog are rejected.
func Aggregate(cat []catalog.Descriptor, responses map[catalog.Interval]*IntervalResponse) (map[string]*table.Table, error) {
	known := make(map[string]struct{}, len(cat))
	for _, d := range cat {
		known[d.MarketID] = struct{}{}
	}
	tables := make(map[string]*table.Table)
	for interval, resp := range responses {
		for block, bd := range resp.Blocks {
			for _, row := range bd.Rows {
				if id, ok := row["market_id"].(string); ok {
					if _, ok := known[id]; !ok {
						return nil, errors.Reason(
							"block %s row references market '%s' not in the catalog", block, id)
					}
				}
			}
			name := string(block)
			if len(responses) > 1 {
				name += "_" + string(interval)
			}
			tables[name] = table.FromRecords(bd.Rows, bd.Columns...)
		}
	}
	return tables, nil
}

// Result is the caller-facing aggregate of one timeseries query. It owns all
// three members; nothing is shared with subsequent calls.
type Result struct {
	// Catalog of all matched markets, in the endpoint's order.
	Catalog []catalog.Descriptor
	// Responses holds the merged raw response per interval.
	Responses map[catalog.Interval]*IntervalResponse
	// Tables holds one table per (requested block, fetched interval), named
	// per the Aggregate rule.
	Tables map[string]*table.Table
}

// Query is the full per-call configuration of FetchTimeseries. Every toggle
// is an explicit named field with a documented default.
type Query struct {
	// Asset symbol, e.g. "BTC".
	Asset string `validate:"required"`
	// Horizons to fetch; at least one is required.
	Horizons []catalog.Horizon `validate:"min=1"`
	// MarketTypes restricts the catalog; empty means all types.
	MarketTypes []catalog.MarketType
	// Blocks to request; empty means probabilities, prices and open interest.
	Blocks []Block
	// Start and End bound the half-open window [Start, End). When zero, End
	// defaults to now and Start to End minus Hours.
	Start time.Time
	End   time.Time
	// Hours of data to fetch when Start is not given.
	Hours float64 `default:"6" validate:"gt=0"`
	// Instrument selects the price source for the prices block.
	Instrument string `default:"spot" validate:"oneof=spot perp"`
	// IncludeFunding adds funding rates to the price observations.
	IncludeFunding bool
	// ChunkSize is the maximum number of markets per request; 0 means the
	// client's configured default.
	ChunkSize int `validate:"gte=0"`
}

// FetchTimeseries resolves the catalog for the query, fetches all requested
// blocks and aggregates them into tables. A query matching no markets
// returns an empty Result, not an error.
func FetchTimeseries(ctx context.Context, query *Query) (*Result, error) {
	q := *query
	if err := api.InitQuery(&q); err != nil {
		return nil, err
	}
	for _, h := range q.Horizons {
		if _, err := catalog.ResolveInterval(h); err != nil {
			return nil, err
		}
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

	filter := catalog.Filter{
		Assets:      []string{q.Asset},
		Horizons:    q.Horizons,
		MarketTypes: q.MarketTypes,
		// Window bounds are forwarded to the catalog only when the caller
		// fixed them explicitly.
		Start: query.Start,
		End:   query.End,
	}
	cat, err := catalog.Resolve(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(cat) == 0 {
		return &Result{
			Catalog:   []catalog.Descriptor{},
			Responses: map[catalog.Interval]*IntervalResponse{},
			Tables:    map[string]*table.Table{},
		}, nil
	}
	req := Request{
		Blocks:         q.Blocks,
		Start:          start,
		End:            end,
		Instrument:     q.Instrument,
		IncludeFunding: q.IncludeFunding,
		ChunkSize:      q.ChunkSize,
	}
	responses, err := Fetch(ctx, cat, &req)
	if err != nil {
		return nil, err
	}
	tables, err := Aggregate(cat, responses)
	if err != nil {
		return nil, err
	}
	return &Result{Catalog: cat, Responses: responses, Tables: tables}, nil
}
