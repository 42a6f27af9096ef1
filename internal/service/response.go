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

package service

import (
	"net/http"

	"github.com/basvanbeek/tracelink/pkg"
	"github.com/basvanbeek/tracelink/pkg/tracing"
)

type response struct {
	Service string      `json:"service"`
	TraceID string      `json:"traceId"`
	SpanID  string      `json:"spanId"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func (ep *Endpoints) ok(span *tracing.Span, message string, data interface{}) tracing.Outcome[response] {
	return tracing.Success(response{
		Service: ep.ServiceName,
		TraceID: span.TraceID(),
		SpanID:  span.SpanID(),
		Message: message,
		Data:    data,
	})
}

func fail(code int, err pkg.Error) tracing.Outcome[response] {
	return tracing.Fail[response](tracing.NewFailure(code, err.Error()))
}

func badRequest(err pkg.Error) tracing.Outcome[response] {
	return fail(http.StatusBadRequest, err)
}
