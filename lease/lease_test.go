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

package lease_test

import (
	"context"
	"testing"

	"gocloud.dev/blob/memblob"

	"lostluck.dev/tilerun/lease"
	"lostluck.dev/tilerun/store"
)

func testBucket(t *testing.T) *store.Bucket {
	t.Helper()
	b := store.New(memblob.OpenBucket(nil))
	t.Cleanup(func() { b.Close() })
	return b
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	b := testBucket(t)
	k := lease.New(b, "leases/")

	release, err := k.Acquire(ctx, "demo/r0/c0")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	ok, err := b.Exists(ctx, "leases/demo/r0/c0")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Fatal("no lease object recorded after Acquire")
	}

	if err := release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	ok, err = b.Exists(ctx, "leases/demo/r0/c0")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Error("lease object survived release")
	}
}

func TestReleaseSurvivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := testBucket(t)
	k := lease.New(b, "leases")

	release, err := k.Acquire(ctx, "demo/r0/c0")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	cancel()
	if err := release(); err != nil {
		t.Fatalf("release failed after cancellation: %v", err)
	}
	ok, err := b.Exists(context.Background(), "leases/demo/r0/c0")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Error("lease object survived release")
	}
}

func TestReleaseAll(t *testing.T) {
	ctx := context.Background()
	b := testBucket(t)
	k := lease.New(b, "leases/")

	for _, key := range []string{"demo/r0/c0", "demo/r0/c1", "demo/r1/c0"} {
		if _, err := k.Acquire(ctx, key); err != nil {
			t.Fatalf("Acquire(%q) failed: %v", key, err)
		}
	}
	// An unrelated object under another prefix must not be swept.
	if err := b.Put(ctx, "published/demo/r0/c0", []byte("artifact")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	n, err := k.ReleaseAll(ctx)
	if err != nil {
		t.Fatalf("ReleaseAll failed: %v", err)
	}
	if want := 3; n != want {
		t.Errorf("ReleaseAll removed %v leases, want %v", n, want)
	}
	left, err := b.List(ctx, "leases/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("leases survived the sweep: %v", left)
	}
	ok, err := b.Exists(ctx, "published/demo/r0/c0")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Error("the sweep deleted an object outside its prefix")
	}
}

func TestReleaseAllEmpty(t *testing.T) {
	ctx := context.Background()
	k := lease.New(testBucket(t), "leases/")
	n, err := k.ReleaseAll(ctx)
	if err != nil {
		t.Fatalf("ReleaseAll failed: %v", err)
	}
	if n != 0 {
		t.Errorf("ReleaseAll on an empty prefix removed %v, want 0", n)
	}
}
