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

// Package pkg holds the small error helpers shared by all tracelink units.
package pkg

import (
	"errors"

	hme "github.com/hashicorp/go-multierror"
	ghe "github.com/pkg/errors"
)

// FlagErr can be used as formatting string for flag related validation errors
// where the first variable lists the flag name and the second variable is the
// actual error.
const FlagErr = "--%s error: %w"

// ErrRequired is returned when required config options are not provided.
const ErrRequired Error = "required"

// Error allows for creating constant errors instead of sentinel ones.
type Error string

// Error implements error.
func (e Error) Error() string {
	return string(e)
}

// HasError checks if the provided target error is found in the error chain of
// err. It understands standard wrapping, github.com/pkg/errors causes and both
// multierror flavours used in this project.
func HasError(err, target error) bool {
	if err == nil || target == nil {
		return err == target
	}
	if errors.Is(err, target) {
		return true
	}
	switch e := err.(type) {
	case *hme.Error:
		for _, inner := range e.Errors {
			if HasError(inner, target) {
				return true
			}
		}
		return false
	case interface{ WrappedErrors() []error }:
		for _, inner := range e.WrappedErrors() {
			if HasError(inner, target) {
				return true
			}
		}
		return false
	}
	if inner := errors.Unwrap(err); inner != nil {
		return HasError(inner, target)
	}
	if cause := ghe.Cause(err); cause != err {
		return HasError(cause, target)
	}
	return false
}
