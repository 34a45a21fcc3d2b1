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
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// ValidationError reports malformed caller input. It is always raised before
// any network call is made.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + e.Msg
}

// Validationf creates a ValidationError with a formatted message.
func Validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// TransportError is a connection or timeout failure of a single request. The
// underlying error is wrapped unchanged.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: request failed: %s", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrorPayload is the structured error document returned by the API:
// {"error": {"code": ..., "message": ..., "detail": ...}}.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// RemoteError is a non-success response from an endpoint. It carries the
// endpoint's own error payload verbatim so the caller can inspect it.
type RemoteError struct {
	Endpoint string
	Status   int           // HTTP status; 2xx when the error was in-band
	Payload  *ErrorPayload // nil when the body was not a structured error
	Body     string        // raw body (truncated) when Payload is nil
}

func (e *RemoteError) Error() string {
	detail := e.Body
	if e.Payload != nil {
		detail = fmt.Sprintf("code %s: %s", e.Payload.Code, e.Payload.Message)
		if e.Payload.Detail != "" {
			detail += ": " + e.Payload.Detail
		}
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Endpoint, e.Status, detail)
}

// UnknownHorizonError reports a horizon outside the fixed vocabulary.
type UnknownHorizonError struct {
	Horizon string
}

func (e *UnknownHorizonError) Error() string {
	return fmt.Sprintf("unknown horizon %q (want daily, weekly, monthly or yearly)",
		e.Horizon)
}

// UnknownBlockError reports a data block outside the fixed vocabulary.
type UnknownBlockError struct {
	Block string
}

func (e *UnknownBlockError) Error() string {
	return fmt.Sprintf(
		"unknown block %q (want probabilities, prices, open_interest or options_metrics)",
		e.Block)
}

var validate = validator.New()

// InitQuery materializes the `default:` tags of a query struct pointer and
// checks its `validate:` tags, converting failures to ValidationError.
func InitQuery(q interface{}) error {
	if err := defaults.Set(q); err != nil {
		return Validationf("failed to set defaults: %s", err)
	}
	if err := validate.Struct(q); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return Validationf("%s", err)
		}
		msgs := make([]string, len(verrs))
		for i, fe := range verrs {
			msgs[i] = fieldMessage(fe)
		}
		return &ValidationError{Msg: strings.Join(msgs, "; ")}
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must have at least %s elements", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field,
			strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
