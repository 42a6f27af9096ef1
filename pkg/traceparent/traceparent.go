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

// Package traceparent encodes and decodes the W3C Trace Context traceparent
// header.
package traceparent

import (
	"encoding/hex"
	"net/http"
)

// Header is the W3C propagation header name.
const Header = "traceparent"

const (
	supportedVersion = 0
	maxVersion       = 254
	flagSampled      = 0x01

	// 2 (version) + 1 + 32 (trace id) + 1 + 16 (span id) + 1 + 2 (flags)
	headerLength = 55
)

// TraceID is a 16 byte W3C trace identifier.
type TraceID [16]byte

// SpanID is an 8 byte W3C span (parent) identifier.
type SpanID [8]byte

// String returns the lowercase hex representation of the trace id.
func (t TraceID) String() string {
	return hex.EncodeToString(t[:])
}

// IsValid reports whether the trace id contains at least one non-zero byte.
func (t TraceID) IsValid() bool {
	return t != TraceID{}
}

// String returns the lowercase hex representation of the span id.
func (s SpanID) String() string {
	return hex.EncodeToString(s[:])
}

// IsValid reports whether the span id contains at least one non-zero byte.
func (s SpanID) IsValid() bool {
	return s != SpanID{}
}

// TraceContext identifies a position in a trace. It is a value type and never
// mutated once created.
type TraceContext struct {
	TraceID TraceID
	SpanID  SpanID
	Sampled bool
}

// IsValid reports whether both identifiers are valid.
func (tc TraceContext) IsValid() bool {
	return tc.TraceID.IsValid() && tc.SpanID.IsValid()
}

// String returns the traceparent header value for this context.
func (tc TraceContext) String() string {
	var flags byte
	if tc.Sampled {
		flags = flagSampled
	}
	return format(tc.TraceID, tc.SpanID, flags)
}

// Encode returns a version 00 traceparent value with the sampled flag set.
func Encode(traceID TraceID, spanID SpanID) string {
	return format(traceID, spanID, flagSampled)
}

// Decode parses a traceparent header value. It returns false when the value is
// absent or malformed, in which case callers start a new trace.
func Decode(value string) (TraceContext, bool) {
	if len(value) < headerLength {
		return TraceContext{}, false
	}

	version, ok := decodeByte(value[0:2])
	if !ok || version > maxVersion {
		return TraceContext{}, false
	}
	// version 00 is exact, later versions may append fields after a dash
	if version == supportedVersion && len(value) != headerLength {
		return TraceContext{}, false
	}
	if len(value) > headerLength && value[headerLength] != '-' {
		return TraceContext{}, false
	}
	if value[2] != '-' || value[35] != '-' || value[52] != '-' {
		return TraceContext{}, false
	}

	var tc TraceContext
	if !decodeLower(tc.TraceID[:], value[3:35]) {
		return TraceContext{}, false
	}
	if !decodeLower(tc.SpanID[:], value[36:52]) {
		return TraceContext{}, false
	}
	flags, ok := decodeByte(value[53:55])
	if !ok {
		return TraceContext{}, false
	}
	tc.Sampled = flags&flagSampled == flagSampled

	if !tc.IsValid() {
		return TraceContext{}, false
	}
	return tc, true
}

// Extract decodes the traceparent header found in h.
func Extract(h http.Header) (TraceContext, bool) {
	return Decode(h.Get(Header))
}

// Inject sets the traceparent header for tc on h, replacing any existing value.
func Inject(h http.Header, tc TraceContext) {
	h.Set(Header, tc.String())
}

func format(traceID TraceID, spanID SpanID, flags byte) string {
	var buf [headerLength]byte
	buf[0], buf[1] = '0', '0'
	buf[2] = '-'
	hex.Encode(buf[3:35], traceID[:])
	buf[35] = '-'
	hex.Encode(buf[36:52], spanID[:])
	buf[52] = '-'
	hex.Encode(buf[53:55], []byte{flags})
	return string(buf[:])
}

func decodeByte(s string) (byte, bool) {
	var b [1]byte
	if !decodeLower(b[:], s) {
		return 0, false
	}
	return b[0], true
}

// decodeLower only accepts lowercase hex, as mandated by the W3C format.
func decodeLower(dst []byte, s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	n, err := hex.Decode(dst, []byte(s))
	return err == nil && n == len(dst)
}
