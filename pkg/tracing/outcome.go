// Copyright (c) Bas van Beek 2022.
// Copyright (c) Tetrate, Inc 2021.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"fmt"
	"net/http"

	"github.com/basvanbeek/tracelink/pkg/traceparent"
)

// Failure is a domain failure returned by traced work. Message and StatusCode
// are required; TraceID and SpanID are filled in by the span factory that
// recorded the failure.
type Failure struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	TraceID    string `json:"traceId,omitempty"`
	SpanID     string `json:"spanId,omitempty"`
}

// NewFailure returns a Failure. Status codes outside the 4xx/5xx range are
// recorded as 500.
func NewFailure(statusCode int, message string) *Failure {
	return &Failure{Message: message, StatusCode: failureStatus(statusCode)}
}

func failureStatus(code int) int {
	if code < 400 || code > 599 {
		return http.StatusInternalServerError
	}
	return code
}

// Failuref returns a Failure with a formatted message.
func Failuref(statusCode int, format string, args ...interface{}) *Failure {
	return NewFailure(statusCode, fmt.Sprintf(format, args...))
}

// Error implements error.
func (f *Failure) Error() string {
	if f == nil {
		return "<nil>"
	}
	return f.Message
}

// Code returns the HTTP status code of the failure. Codes outside the 4xx/5xx
// range, including an unset code, report 500.
func (f *Failure) Code() int {
	return failureStatus(f.StatusCode)
}

func (f *Failure) withTrace(tc traceparent.TraceContext) *Failure {
	annotated := *f
	annotated.StatusCode = f.Code()
	annotated.TraceID = tc.TraceID.String()
	annotated.SpanID = tc.SpanID.String()
	return &annotated
}

// UnexpectedError is returned by the span factories when the traced work
// panicked. It always maps to a 500 response.
type UnexpectedError struct {
	TraceID string
	SpanID  string
	Cause   interface{}
}

// Error implements error.
func (e *UnexpectedError) Error() string {
	return "internal server error"
}

// StatusCode returns the HTTP status code for this error.
func (e *UnexpectedError) StatusCode() int {
	return http.StatusInternalServerError
}

func (e *UnexpectedError) failure() *Failure {
	return &Failure{
		Message:    e.Error(),
		StatusCode: e.StatusCode(),
		TraceID:    e.TraceID,
		SpanID:     e.SpanID,
	}
}

func newUnexpectedError(tc traceparent.TraceContext, cause interface{}) *UnexpectedError {
	return &UnexpectedError{
		TraceID: tc.TraceID.String(),
		SpanID:  tc.SpanID.String(),
		Cause:   cause,
	}
}

// Outcome is the result of traced work: either a value or a Failure.
type Outcome[T any] struct {
	value   T
	failure *Failure
}

// Success returns a successful Outcome holding v.
func Success[T any](v T) Outcome[T] {
	return Outcome[T]{value: v}
}

// Fail returns a failed Outcome. A nil failure is replaced by a generic 500.
func Fail[T any](f *Failure) Outcome[T] {
	if f == nil {
		f = NewFailure(http.StatusInternalServerError, "unknown failure")
	}
	return Outcome[T]{failure: f}
}

// OK reports whether the Outcome is a success.
func (o Outcome[T]) OK() bool {
	return o.failure == nil
}

// Value returns the success value, or the zero value for failures.
func (o Outcome[T]) Value() T {
	return o.value
}

// Failure returns the failure, or nil for successes.
func (o Outcome[T]) Failure() *Failure {
	return o.failure
}
