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

import "context"

// WorkItem is one independently executable, independently skippable unit of
// a run. Key must be stable: re-enumerating with identical inputs yields the
// same key for the same logical unit, so a restarted run can be matched
// against existing outputs. Items are immutable once created.
type WorkItem[P any] struct {
	// Key uniquely identifies the item and derives the location of its
	// output artifact.
	Key string
	// Params carries whatever the worker body needs to execute the item.
	Params P
}

// WorkList is an ordered sequence of work items, produced once per run and
// read-only thereafter. Order is a dispatch priority hint, never a
// dependency: items must be executable in any order.
type WorkList[P any] []WorkItem[P]

// Keys returns the item keys in list order.
func (wl WorkList[P]) Keys() []string {
	keys := make([]string, len(wl))
	for i, it := range wl {
		keys[i] = it.Key
	}
	return keys
}

// Keyed is anything that knows its own stable work key. Enumerator outputs
// implement this so they can be lifted into a WorkList without the core
// depending on any particular enumerator.
type Keyed interface {
	WorkKey() string
}

// FromKeyed lifts enumerated batches into a WorkList, preserving order.
func FromKeyed[P Keyed](batches []P) WorkList[P] {
	wl := make(WorkList[P], len(batches))
	for i, b := range batches {
		wl[i] = WorkItem[P]{Key: b.WorkKey(), Params: b}
	}
	return wl
}

// Worker is the opaque processing body invoked once per dispatched item.
// The dispatcher only interprets the returned error: nil is success, errors
// marked [Transient] are retried, anything else is fatal for the item.
type Worker[P any] interface {
	Process(ctx context.Context, item WorkItem[P]) error
}

// WorkerFunc adapts a func to the Worker interface.
type WorkerFunc[P any] func(ctx context.Context, item WorkItem[P]) error

func (fn WorkerFunc[P]) Process(ctx context.Context, item WorkItem[P]) error {
	return fn(ctx, item)
}
