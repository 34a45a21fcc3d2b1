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

// Package timeseries fetches market data from the merged timeseries
// endpoint in bounded-size chunks and reshapes the per-interval responses
// into named tables.
//
// The pipeline is: partition the resolved catalog by sampling interval,
// chunk each interval's market identifiers, issue one request per chunk,
// merge the chunk responses per interval, and aggregate the merged blocks
// into tables. All stages except the request itself are pure.
package timeseries

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	"github.com/polybridge/polybridge/api"
	"github.com/polybridge/polybridge/catalog"
	"github.com/polybridge/polybridge/table"
)

// Block is a named data block of the timeseries endpoint.
type Block string

// The fixed block vocabulary.
const (
	Probabilities  Block = "probabilities"
	Prices         Block = "prices"
	OpenInterest   Block = "open_interest"
	OptionsMetrics Block = "options_metrics"
)

// allBlocks in canonical order.
var allBlocks = []Block{Probabilities, Prices, OpenInterest, OptionsMetrics}

// defaultBlocks are requested when a query names none.
var defaultBlocks = []Block{Probabilities, Prices, OpenInterest}

// ParseBlock validates a block name against the fixed vocabulary.
func ParseBlock(s string) (Block, error) {
	for _, b := range allBlocks {
		if string(b) == s {
			return b, nil
		}
	}
	return "", &api.UnknownBlockError{Block: s}
}

// Record is one row of a data block.
type Record = table.Record

// BlockData holds the rows of one data block for one interval.
type BlockData struct {
	Columns []string `json:"columns"`
	Rows    []Record `json:"rows"`
}

// IntervalResponse is the (merged) timeseries document for one interval:
// zero or more named data blocks plus optional metadata.
type IntervalResponse struct {
	Blocks map[Block]*BlockData
	Meta   Record
}

// UnmarshalJSON decodes the endpoint's document, which is keyed by block
// name with an optional "meta" object. Keys outside the block vocabulary
// are ignored.
func (r *IntervalResponse) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Blocks = make(map[Block]*BlockData)
	for key, val := range raw {
		if key == "meta" {
			if err := json.Unmarshal(val, &r.Meta); err != nil {
				return errors.Annotate(err, "failed to decode meta")
			}
			continue
		}
		block, err := ParseBlock(key)
		if err != nil {
			continue
		}
		var bd BlockData
		if err := json.Unmarshal(val, &bd); err != nil {
			return errors.Annotate(err, "failed to decode block '%s'", key)
		}
		r.Blocks[block] = &bd
	}
	return nil
}

// merge appends src's block rows after r's own, preserving chunk order. The
// first chunk carrying a block's columns or metadata wins.
func (r *IntervalResponse) merge(src *IntervalResponse) {
	if r.Blocks == nil {
		r.Blocks = make(map[Block]*BlockData)
	}
	for block, bd := range src.Blocks {
		dst, ok := r.Blocks[block]
		if !ok {
			r.Blocks[block] = &BlockData{
				Columns: bd.Columns,
				Rows:    append([]Record{}, bd.Rows...),
			}
			continue
		}
		if len(dst.Columns) == 0 {
			dst.Columns = bd.Columns
		}
		dst.Rows = append(dst.Rows, bd.Rows...)
	}
	if r.Meta == nil {
		r.Meta = src.Meta
	}
}

// NumRows returns the number of rows of a block, zero when absent.
func (r *IntervalResponse) NumRows(b Block) int {
	bd, ok := r.Blocks[b]
	if !ok {
		return 0
	}
	return len(bd.Rows)
}

// Endpoint of the merged timeseries API.
const Endpoint = "api_v1_merged"

// Request configures a fetch over an already resolved catalog.
type Request struct {
	// Blocks to request; empty means probabilities, prices and open interest.
	Blocks []Block
	// Start and End bound the half-open window [Start, End). A zero bound is
	// omitted from the request.
	Start time.Time
	End   time.Time
	// Instrument selects the price source for the prices block.
	Instrument string `default:"spot" validate:"oneof=spot perp"`
	// IncludeFunding adds funding rates to the price observations.
	IncludeFunding bool
	// ChunkSize is the maximum number of markets per request; 0 means the
	// client's configured default.
	ChunkSize int `validate:"gte=0"`
}

// init validates the request and fills in defaults.
func (q *Request) init() error {
	if err := api.InitQuery(q); err != nil {
		return err
	}
	if len(q.Blocks) == 0 {
		q.Blocks = append([]Block{}, defaultBlocks...)
	}
	for _, b := range q.Blocks {
		if _, err := ParseBlock(string(b)); err != nil {
			return err
		}
	}
	if !q.Start.IsZero() && !q.End.IsZero() && !q.Start.Before(q.End) {
		return api.Validationf("start_ts %s must be before end_ts %s",
			api.FormatTime(q.Start), api.FormatTime(q.End))
	}
	return nil
}

func (q *Request) hasBlock(b Block) bool {
	for _, rb := range q.Blocks {
		if rb == b {
			return true
		}
	}
	return false
}

// values serializes one chunk request.
func (q *Request) values(interval catalog.Interval, markets []string) url.Values {
	v := make(url.Values)
	for _, m := range markets {
		v.Add("markets", m)
	}
	v.Set("interval", string(interval))
	for _, b := range q.Blocks {
		v.Add("blocks", string(b))
	}
	if !q.Start.IsZero() {
		v.Set("start_ts", api.FormatTime(q.Start))
	}
	if !q.End.IsZero() {
		v.Set("end_ts", api.FormatTime(q.End))
	}
	if q.hasBlock(Prices) {
		v.Set("prices_instrument", q.Instrument)
		if q.IncludeFunding {
			v.Set("include_funding", "true")
		}
	}
	return v
}

// intervalGroup holds the market ids of one interval in catalog order.
type intervalGroup struct {
	interval catalog.Interval
	ids      []string
}

// partition groups the catalog's market ids by interval, in order of first
// appearance.
func partition(cat []catalog.Descriptor) ([]intervalGroup, error) {
	var groups []intervalGroup
	index := make(map[catalog.Interval]int)
	for _, d := range cat {
		interval, err := d.Interval()
		if err != nil {
			return nil, err
		}
		i, ok := index[interval]
		if !ok {
			i = len(groups)
			index[interval] = i
			groups = append(groups, intervalGroup{interval: interval})
		}
		groups[i].ids = append(groups[i].ids, d.MarketID)
	}
	return groups, nil
}

// Fetch requests the configured blocks for every market in the catalog, one
// request per (interval, chunk), and merges the chunk responses per interval
// by concatenating each block's rows in chunk order. A requested block
// absent from an interval's merged response is backfilled as an empty block,
// reflecting the backend's interval-specific block restrictions. Any chunk
// failure aborts the whole fetch; partial results are never returned.
func Fetch(ctx context.Context, cat []catalog.Descriptor, req *Request) (map[catalog.Interval]*IntervalResponse, error) {
	client := api.GetClient(ctx)
	if client == nil {
		return nil, errors.Reason("timeseries.Fetch: no client in context")
	}
	r := *req
	if err := r.init(); err != nil {
		return nil, err
	}
	if r.ChunkSize == 0 {
		r.ChunkSize = client.ChunkSize()
	}
	groups, err := partition(cat)
	if err != nil {
		return nil, err
	}
	responses := make(map[catalog.Interval]*IntervalResponse, len(groups))
	for _, g := range groups {
		chunks, err := Chunk(dedupe(g.ids), r.ChunkSize)
		if err != nil {
			return nil, err
		}
		merged := &IntervalResponse{Blocks: make(map[Block]*BlockData)}
		for i, chunk := range chunks {
			var resp IntervalResponse
			if err := client.GetJSON(ctx, Endpoint, r.values(g.interval, chunk), &resp); err != nil {
				return nil, errors.Annotate(err,
					"failed to fetch interval %s chunk %d of %d", g.interval, i+1, len(chunks))
			}
			logging.Infof(ctx, "polybridge: fetched interval %s chunk %d of %d with %d markets",
				g.interval, i+1, len(chunks), len(chunk))
			merged.merge(&resp)
		}
		for _, b := range r.Blocks {
			if _, ok := merged.Blocks[b]; !ok {
				merged.Blocks[b] = &BlockData{Rows: []Record{}}
			}
		}
		responses[g.interval] = merged
	}
	return responses, nil
}
