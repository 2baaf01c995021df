// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tilerun

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// The error taxonomy is small and deliberate:
//
//   - ConfigurationError aborts a run before any dispatch happens.
//   - Transient worker errors are retried up to the configured budget.
//   - Everything else from a worker body is fatal for that item only.
//
// Guard (store) failures are never fatal: the store being briefly
// unreachable says nothing about whether the item is done, so they are
// folded into the transient case for the affected item.

// ConfigurationError reports invalid enumeration or run inputs. It is the
// only error class that fails a run before dispatch begins.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.Err.Error() }

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configurationf builds a ConfigurationError from a format string.
func Configurationf(format string, args ...any) error {
	return &ConfigurationError{Err: errors.Errorf(format, args...)}
}

// IsConfiguration reports whether any error in err's chain is a
// ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return stderrors.As(err, &ce)
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

// Transient marks an error as retryable: resource exhaustion, throttling by
// an external service, a store blip. The dispatcher retries transient
// failures with backoff before recording the item as failed.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether any error in err's chain was marked Transient.
func IsTransient(err error) bool {
	var te *transientError
	return stderrors.As(err, &te)
}

// ErrNoProgress is returned by Run when a non-empty work list finishes with
// zero items done or skipped. A fully skipped resume run is healthy; a run
// where every single item failed is not.
var ErrNoProgress = errors.New("run finished with no work item done or skipped")
