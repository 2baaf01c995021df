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

// Package tilerun dispatches batched, independently skippable work items to
// a bounded worker pool, with idempotent restarts backed by a durable object
// store.
//
// A run has three phases: an enumerator (see the grid package) partitions
// the problem into work items with stable, deterministic keys; [Run] fans
// the items out to at most Workers concurrent invocations of an opaque
// worker body; before each invocation a [Guard] checks whether the item's
// output artifact already exists and skips the body if so.
//
// Items are designed so that a crashed or cancelled run can simply be run
// again: finished items are skipped via the guard, abandoned items remain
// pending because workers publish outputs atomically, and a single item's
// failure never aborts the rest of the list.
//
// There is deliberately exactly one concurrency model: blocking calls
// executed by a bounded pool. No operation has both a synchronous and an
// asynchronous entry point.
package tilerun
