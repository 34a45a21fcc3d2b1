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
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestClient(t *testing.T) {
	t.Parallel()

	Convey("New", t, func() {
		Convey("requires an API key", func() {
			_, err := New("", nil)
			So(err, ShouldNotBeNil)
			_, ok := err.(*ValidationError)
			So(ok, ShouldBeTrue)
		})

		Convey("fills in defaults", func() {
			client, err := New("testkey", nil)
			So(err, ShouldBeNil)
			So(client.ChunkSize(), ShouldEqual, 10)
			So(client.timeout, ShouldEqual, 60*time.Second)
			So(client.baseURL, ShouldEqual, URL)
		})

		Convey("rejects an out-of-range timeout", func() {
			_, err := New("testkey", &Config{Timeout: MaxTimeout + 1})
			So(err, ShouldNotBeNil)
			_, ok := err.(*ValidationError)
			So(ok, ShouldBeTrue)
		})

		Convey("trims a trailing slash off the base URL", func() {
			client, err := New("testkey", &Config{BaseURL: "http://localhost:1234/"})
			So(err, ShouldBeNil)
			So(client.baseURL, ShouldEqual, "http://localhost:1234")
		})
	})

	Convey("GetJSON", t, func() {
		server := NewTestServer()
		defer server.Close()
		client, err := New("testkey", &Config{BaseURL: server.URL()})
		So(err, ShouldBeNil)
		ctx := context.Background()

		Convey("decodes a successful response", func() {
			server.ResponseBody = []string{`{"value": 42}`}
			var res struct {
				Value int `json:"value"`
			}
			query := url.Values{}
			query.Add("assets", "BTC")
			So(client.GetJSON(ctx, "api_v1_market_catalog", query, &res), ShouldBeNil)
			So(res.Value, ShouldEqual, 42)
			So(server.RequestPath, ShouldEqual, "/api_v1_market_catalog")
			So(server.RequestQuery.Get("assets"), ShouldEqual, "BTC")
			So(server.RequestHeader.Get("Authorization"), ShouldEqual, "Bearer testkey")
		})

		Convey("non-2xx with a structured payload is a RemoteError", func() {
			server.ResponseStatus = 400
			server.ResponseBody = []string{
				`{"error": {"code": "bad_request", "message": "no such asset", "detail": "XYZ"}}`}
			err := client.GetJSON(ctx, "api_v1_merged", nil, &struct{}{})
			remote, ok := err.(*RemoteError)
			So(ok, ShouldBeTrue)
			So(remote.Status, ShouldEqual, 400)
			So(remote.Endpoint, ShouldEqual, "api_v1_merged")
			So(remote.Payload.Code, ShouldEqual, "bad_request")
			So(remote.Error(), ShouldContainSubstring, "no such asset")
			So(remote.Error(), ShouldContainSubstring, "XYZ")
		})

		Convey("non-2xx with a plain body keeps a truncated copy", func() {
			server.ResponseStatus = 500
			server.ResponseBody = []string{strings.Repeat("x", 600)}
			err := client.GetJSON(ctx, "api_v1_merged", nil, &struct{}{})
			remote, ok := err.(*RemoteError)
			So(ok, ShouldBeTrue)
			So(remote.Status, ShouldEqual, 500)
			So(remote.Payload, ShouldBeNil)
			So(len(remote.Body), ShouldEqual, 500)
		})

		Convey("in-band error on a 200 response is a RemoteError", func() {
			server.ResponseBody = []string{
				`{"error": {"code": "rate_limited", "message": "slow down"}}`}
			err := client.GetJSON(ctx, "api_v1_merged", nil, &struct{}{})
			remote, ok := err.(*RemoteError)
			So(ok, ShouldBeTrue)
			So(remote.Status, ShouldEqual, 200)
			So(remote.Payload.Code, ShouldEqual, "rate_limited")
		})

		Convey("connection failure is a TransportError", func() {
			server.Close()
			err := client.GetJSON(ctx, "api_v1_merged", nil, &struct{}{})
			transport, ok := err.(*TransportError)
			So(ok, ShouldBeTrue)
			So(transport.Unwrap(), ShouldNotBeNil)
		})

		Convey("malformed success body fails decoding", func() {
			server.ResponseBody = []string{`not json`}
			err := client.GetJSON(ctx, "api_v1_merged", nil, &struct{}{})
			So(err, ShouldNotBeNil)
			_, ok := err.(*RemoteError)
			So(ok, ShouldBeFalse)
		})
	})

	Convey("context client injection", t, func() {
		So(GetClient(context.Background()), ShouldBeNil)
		client, err := New("testkey", nil)
		So(err, ShouldBeNil)
		ctx := UseClient(context.Background(), client)
		So(GetClient(ctx), ShouldEqual, client)
	})
}

func TestTimestamps(t *testing.T) {
	t.Parallel()

	Convey("FormatTime renders UTC with a Z suffix", t, func() {
		loc := time.FixedZone("UTC+2", 2*3600)
		ts := time.Date(2024, 5, 1, 14, 30, 15, 999, loc)
		So(FormatTime(ts), ShouldEqual, "2024-05-01T12:30:15Z")
	})

	Convey("ParseTime round-trips FormatTime", t, func() {
		ts, err := ParseTime("2024-05-01T12:30:15Z")
		So(err, ShouldBeNil)
		So(FormatTime(ts), ShouldEqual, "2024-05-01T12:30:15Z")
	})

	Convey("ParseTime rejects garbage", t, func() {
		_, err := ParseTime("yesterday")
		So(err, ShouldNotBeNil)
	})
}

func TestInitQuery(t *testing.T) {
	t.Parallel()

	type query struct {
		Name  string `validate:"required"`
		Kind  string `default:"spot" validate:"oneof=spot perp"`
		Count int    `default:"10" validate:"gt=0"`
	}

	Convey("InitQuery", t, func() {
		Convey("fills defaults and validates", func() {
			q := query{Name: "x"}
			So(InitQuery(&q), ShouldBeNil)
			So(q.Kind, ShouldEqual, "spot")
			So(q.Count, ShouldEqual, 10)
		})

		Convey("reports missing required fields", func() {
			q := query{}
			err := InitQuery(&q)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "Name is required")
		})

		Convey("reports oneof violations with the choices", func() {
			q := query{Name: "x", Kind: "margin"}
			err := InitQuery(&q)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "Kind must be one of: spot, perp")
		})
	})
}
