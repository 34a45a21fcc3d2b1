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

// Package api implements the transport layer of the Polybridge analytics
// client: a context-injected client issuing authenticated GET requests and
// the typed error taxonomy shared by all query packages.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
)

type contextKey int

const (
	clientContextKey contextKey = iota
	httpClientContextKey
)

// URL is the default base URL of the production API. It may be overwritten
// in tests before creating a new client.
var URL = "https://us-central1-polymarket-analytics-api.cloudfunctions.net"

// MaxTimeout is the largest accepted Config.Timeout, in seconds.
const MaxTimeout = 600

// maxErrorBody limits the raw body carried by a RemoteError.
const maxErrorBody = 500

// Config holds the client settings. Zero values mean the documented
// defaults.
type Config struct {
	// BaseURL of the API server; empty means the production endpoint.
	BaseURL string
	// Timeout in seconds applied to each individual request. A fetch spanning
	// many chunks may exceed it in total wall-clock time.
	Timeout int `default:"60" validate:"gt=0,lte=600"`
	// ChunkSize is the default number of markets per timeseries request.
	ChunkSize int `default:"10" validate:"gt=0"`
}

// Client for the Polybridge analytics endpoints. It is immutable after
// creation and never issues concurrent requests itself.
type Client struct {
	baseURL   string
	apiKey    string
	timeout   time.Duration
	chunkSize int
}

// New creates a client. A nil config uses all defaults.
func New(apiKey string, cfg *Config) (*Client, error) {
	if apiKey == "" {
		return nil, Validationf("API key is required")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if err := InitQuery(&c); err != nil {
		return nil, err
	}
	if c.BaseURL == "" {
		c.BaseURL = URL
	}
	return &Client{
		baseURL:   strings.TrimSuffix(c.BaseURL, "/"),
		apiKey:    apiKey,
		timeout:   time.Duration(c.Timeout) * time.Second,
		chunkSize: c.ChunkSize,
	}, nil
}

// ChunkSize returns the configured default chunk size.
func (c *Client) ChunkSize() int { return c.chunkSize }

// UseClient injects the client into the context for the query packages.
func UseClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientContextKey, c)
}

// GetClient extracts the Client from the context, if any.
func GetClient(ctx context.Context) *Client {
	c, ok := ctx.Value(clientContextKey).(*Client)
	if !ok {
		return nil
	}
	return c
}

// UseHTTPClient injects a custom *http.Client, e.g. to reuse connections
// across calls or to point tests at a local server. The client only ever
// sees sequential requests.
func UseHTTPClient(ctx context.Context, hc *http.Client) context.Context {
	return context.WithValue(ctx, httpClientContextKey, hc)
}

func httpClient(ctx context.Context) *http.Client {
	hc, ok := ctx.Value(httpClientContextKey).(*http.Client)
	if !ok {
		return http.DefaultClient
	}
	return hc
}

// errorProbe extracts an in-band error object from a response body.
type errorProbe struct {
	Error *ErrorPayload `json:"error"`
}

// GetJSON issues one GET request to the endpoint with the query values and
// decodes the JSON response into result. Network failures surface as
// *TransportError; non-2xx statuses and in-band error payloads surface as
// *RemoteError.
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values, result interface{}) error {
	uri := c.baseURL + "/" + strings.TrimPrefix(endpoint, "/")
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodGet, uri, nil)
	if err != nil {
		return errors.Annotate(err, "failed to create request for %s", endpoint)
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	logging.Debugf(ctx, "GET %s?%s", endpoint, req.URL.RawQuery)
	resp, err := httpClient(ctx).Do(req)
	if err != nil {
		return &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Endpoint: endpoint, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return remoteError(endpoint, resp.StatusCode, body)
	}
	var probe errorProbe
	if err := json.Unmarshal(body, &probe); err == nil && probe.Error != nil {
		return &RemoteError{
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Payload:  probe.Error,
		}
	}
	if err := json.Unmarshal(body, result); err != nil {
		return errors.Annotate(err, "failed to decode %s response", endpoint)
	}
	return nil
}

// remoteError builds a RemoteError from a failed response, keeping the
// structured payload when the body parses as one.
func remoteError(endpoint string, status int, body []byte) *RemoteError {
	var probe errorProbe
	if err := json.Unmarshal(body, &probe); err == nil && probe.Error != nil {
		return &RemoteError{Endpoint: endpoint, Status: status, Payload: probe.Error}
	}
	text := string(body)
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return &RemoteError{Endpoint: endpoint, Status: status, Body: text}
}

// FormatTime renders t as an ISO-8601 UTC timestamp with second precision
// and a Z suffix, the format expected by the API's window parameters.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}

// ParseTime parses an ISO-8601 timestamp as produced by FormatTime or by the
// API's row timestamps.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Annotate(err, "failed to parse timestamp '%s'", s)
	}
	return t.UTC(), nil
}
