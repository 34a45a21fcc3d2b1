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

// Package catalog resolves abstract query criteria (assets, horizons, market
// types) into the concrete market descriptors of the catalog endpoint, and
// holds the fixed horizon to sampling-interval mapping.
package catalog

import (
	"context"
	"net/url"
	"time"

	"github.com/stockparfait/errors"

	"github.com/polybridge/polybridge/api"
)

// Horizon is the resolution horizon of a market.
type Horizon string

// The fixed horizon vocabulary.
const (
	Daily   Horizon = "daily"
	Weekly  Horizon = "weekly"
	Monthly Horizon = "monthly"
	Yearly  Horizon = "yearly"
)

// Interval is the sampling interval of a horizon's timeseries.
type Interval string

// Intervals produced by ResolveInterval.
const (
	Interval5m  Interval = "5m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
)

// horizonIntervals is the fixed mapping of horizons to intervals. Each
// horizon maps to exactly one distinct interval, which keeps grouping tables
// by interval unambiguous. It is not configurable at runtime.
var horizonIntervals = map[Horizon]Interval{
	Daily:   Interval5m,
	Weekly:  Interval30m,
	Monthly: Interval1h,
	Yearly:  Interval4h,
}

// ResolveInterval maps a horizon to its underlying sampling interval. It is
// a pure total function over the horizon vocabulary; any other value fails
// with *api.UnknownHorizonError.
func ResolveInterval(h Horizon) (Interval, error) {
	interval, ok := horizonIntervals[h]
	if !ok {
		return "", &api.UnknownHorizonError{Horizon: string(h)}
	}
	return interval, nil
}

// MarketType is the kind of a prediction market.
type MarketType string

// Known market types.
const (
	UpOrDown MarketType = "up-or-down"
	Above    MarketType = "above"
)

// Descriptor identifies one market returned by the catalog endpoint.
// Descriptors are immutable once returned and uniquely identified by
// MarketID.
type Descriptor struct {
	Asset      string     `json:"asset"`
	Horizon    Horizon    `json:"horizon"`
	MarketType MarketType `json:"market_type"`
	MarketID   string     `json:"market_id"`
	Strike     *float64   `json:"strike,omitempty"`
	WindowDays *int       `json:"window_days,omitempty"`
}

// Interval derives the sampling interval from the descriptor's horizon.
func (d Descriptor) Interval() (Interval, error) {
	return ResolveInterval(d.Horizon)
}

// Filter is the caller-supplied market selection criteria. All fields are
// optional; zero Start/End leave the time window unbounded. A filter that
// matches nothing is valid and resolves to an empty descriptor set.
type Filter struct {
	Assets      []string
	Horizons    []Horizon
	MarketTypes []MarketType
	Start       time.Time // half-open window [Start, End)
	End         time.Time
}

// Values serializes the filter as query parameters: assets, horizons and
// market types as repeated values, window bounds as ISO-8601 timestamps.
func (f Filter) Values() (url.Values, error) {
	if !f.Start.IsZero() && !f.End.IsZero() && !f.Start.Before(f.End) {
		return nil, api.Validationf("start_ts %s must be before end_ts %s",
			api.FormatTime(f.Start), api.FormatTime(f.End))
	}
	v := make(url.Values)
	for _, a := range f.Assets {
		v.Add("assets", a)
	}
	for _, h := range f.Horizons {
		v.Add("horizons", string(h))
	}
	for _, m := range f.MarketTypes {
		v.Add("market_types", string(m))
	}
	if !f.Start.IsZero() {
		v.Set("start_ts", api.FormatTime(f.Start))
	}
	if !f.End.IsZero() {
		v.Set("end_ts", api.FormatTime(f.End))
	}
	return v, nil
}

// Endpoint of the market catalog API.
const Endpoint = "api_v1_market_catalog"

type catalogResponse struct {
	Markets []Descriptor `json:"markets"`
}

// Resolve fetches the descriptors of all markets matching the filter in
// exactly one request. The endpoint's order is preserved, so downstream
// batching is deterministic given deterministic input.
func Resolve(ctx context.Context, f Filter) ([]Descriptor, error) {
	client := api.GetClient(ctx)
	if client == nil {
		return nil, errors.Reason("catalog.Resolve: no client in context")
	}
	query, err := f.Values()
	if err != nil {
		return nil, err
	}
	var resp catalogResponse
	if err := client.GetJSON(ctx, Endpoint, query, &resp); err != nil {
		return nil, err
	}
	return resp.Markets, nil
}
