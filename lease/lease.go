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

// Package lease is a store backed tilerun.Provisioner: acquiring a work
// item's compute handle records a lease object, releasing it removes it.
//
// Leases left behind by a crashed run are visible in the store and can be
// swept with ReleaseAll before the next run, the moral equivalent of
// shutting down a previous run's orphaned sub-clusters.
package lease

import (
	"context"
	"strconv"
	"strings"
	"time"

	"lostluck.dev/tilerun"
	"lostluck.dev/tilerun/internal/ctxlog"
	"lostluck.dev/tilerun/store"
)

// Keeper issues leases under a prefix in a bucket.
type Keeper struct {
	b      *store.Bucket
	prefix string
}

// New builds a Keeper storing leases under prefix.
func New(b *store.Bucket, prefix string) *Keeper {
	return &Keeper{b: b, prefix: strings.TrimSuffix(prefix, "/") + "/"}
}

// Acquire records a lease for key. The release func removes it and must be
// called on every exit path.
func (k *Keeper) Acquire(ctx context.Context, key string) (func() error, error) {
	leaseKey := k.prefix + key
	stamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := k.b.Put(ctx, leaseKey, []byte(stamp)); err != nil {
		return nil, err
	}
	return func() error {
		// Release must work even when the run context is already cancelled.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		return k.b.Delete(rctx, leaseKey)
	}, nil
}

// ReleaseAll sweeps every lease under the prefix, releasing handles a
// crashed run left behind. It returns the number of leases removed.
func (k *Keeper) ReleaseAll(ctx context.Context) (int, error) {
	logger := ctxlog.From(ctx)
	keys, err := k.b.List(ctx, k.prefix)
	if err != nil {
		return 0, err
	}
	for i, key := range keys {
		if err := k.b.Delete(ctx, key); err != nil {
			return i, err
		}
		logger.Info("released stale lease", "lease", strings.TrimPrefix(key, k.prefix))
	}
	return len(keys), nil
}

var _ tilerun.Provisioner = (*Keeper)(nil)
