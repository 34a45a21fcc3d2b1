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

package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
)

// TestServer is an in-process HTTP server for tests. Response bodies are
// served in order, with the last one repeating; ResponseStatus applies to
// every response. Point a client at it with:
//
//	server := api.NewTestServer()
//	defer server.Close()
//	client, _ := api.New("testkey", &api.Config{BaseURL: server.URL()})
//	ctx := api.UseClient(context.Background(), client)
type TestServer struct {
	ResponseBody   []string
	ResponseStatus int

	RequestPath   string      // path of the most recent request
	RequestQuery  url.Values  // query of the most recent request
	RequestHeader http.Header // headers of the most recent request
	Paths         []string    // all request paths, in order
	Queries       []url.Values

	server *httptest.Server
	next   int
}

// NewTestServer creates and starts a test server responding with status 200
// and an empty JSON object until configured otherwise.
func NewTestServer() *TestServer {
	ts := &TestServer{ResponseStatus: http.StatusOK}
	ts.server = httptest.NewServer(http.HandlerFunc(ts.handle))
	return ts
}

func (ts *TestServer) handle(w http.ResponseWriter, r *http.Request) {
	ts.RequestPath = r.URL.Path
	ts.RequestQuery = r.URL.Query()
	ts.RequestHeader = r.Header.Clone()
	ts.Paths = append(ts.Paths, r.URL.Path)
	ts.Queries = append(ts.Queries, r.URL.Query())

	body := "{}"
	if len(ts.ResponseBody) > 0 {
		i := ts.next
		if i >= len(ts.ResponseBody) {
			i = len(ts.ResponseBody) - 1
		}
		body = ts.ResponseBody[i]
		ts.next++
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ts.ResponseStatus)
	io.WriteString(w, body)
}

// URL of the test server, to be used as Config.BaseURL.
func (ts *TestServer) URL() string { return ts.server.URL }

// Client returns an HTTP client connected to the test server.
func (ts *TestServer) Client() *http.Client { return ts.server.Client() }

// NumRequests returns the number of requests served so far.
func (ts *TestServer) NumRequests() int { return len(ts.Paths) }

// Close shuts the server down.
func (ts *TestServer) Close() { ts.server.Close() }
