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

// Guard answers "is this item already done". The answer must be a pure
// function of the item's key and durable external state, never of in-memory
// run state, so the guard keeps working after a total process restart.
//
// Guards must be safe for concurrent use by multiple dispatch workers.
type Guard interface {
	Done(ctx context.Context, key string) (bool, error)
}

// Store is the minimal durable object store surface the existence guard
// needs. The store must publish writes atomically: a key must never report
// as existing while its object is partially written, or the idempotency
// guarantee collapses. gocloud.dev buckets satisfy this (see the store
// package).
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
}

type existenceGuard struct {
	store   Store
	resolve func(key string) string
}

// NewGuard builds a Guard that checks for an output artifact in a durable
// store. resolve maps an item key to its artifact's object name; nil means
// the artifact lives at the key itself.
func NewGuard(s Store, resolve func(key string) string) Guard {
	if resolve == nil {
		resolve = func(key string) string { return key }
	}
	return &existenceGuard{store: s, resolve: resolve}
}

func (g *existenceGuard) Done(ctx context.Context, key string) (bool, error) {
	return g.store.Exists(ctx, g.resolve(key))
}
