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

package tilerun_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gocloud.dev/blob/memblob"

	"lostluck.dev/tilerun"
	"lostluck.dev/tilerun/grid"
	"lostluck.dev/tilerun/store"
)

func testBucket(t *testing.T) *store.Bucket {
	t.Helper()
	b := store.New(memblob.OpenBucket(nil))
	t.Cleanup(func() { b.Close() })
	return b
}

// markDone is the minimal conforming worker body: publish the done marker
// for the item, atomically, and nothing else.
func markDone(b *store.Bucket) tilerun.WorkerFunc[grid.Batch] {
	return func(ctx context.Context, item tilerun.WorkItem[grid.Batch]) error {
		return b.Put(ctx, item.Key, []byte("done"))
	}
}

// demoItems enumerates the canonical 4x4 demo grid into 16 work items.
func demoItems(t *testing.T) tilerun.WorkList[grid.Batch] {
	t.Helper()
	batches, err := grid.Enumerate(context.Background(),
		grid.Spec{TileSize: 1},
		grid.Query{
			Extent:    grid.Extent{BBox: &grid.BBox{West: 0, South: 0, East: 4, North: 4}},
			Time:      grid.TimeRange{Start: time.Unix(0, 0), End: time.Unix(86400, 0)},
			Products:  []string{"demo"},
			GroupSize: 1,
		}, nil)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	return tilerun.FromKeyed(batches)
}

func TestRunAllDone(t *testing.T) {
	ctx := context.Background()
	bucket := testBucket(t)
	items := demoItems(t)

	var invocations atomic.Int64
	worker := tilerun.WorkerFunc[grid.Batch](func(ctx context.Context, item tilerun.WorkItem[grid.Batch]) error {
		invocations.Add(1)
		return bucket.Put(ctx, item.Key, []byte("done"))
	})

	rep, err := tilerun.Run(ctx, tilerun.Config{Workers: 4}, items, tilerun.NewGuard(bucket, nil), worker)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got, want := rep.Done, 16; got != want {
		t.Errorf("done count got %v, want %v", got, want)
	}
	if got, want := rep.Failed, 0; got != want {
		t.Errorf("failed count got %v, want %v", got, want)
	}
	if got, want := invocations.Load(), int64(16); got != want {
		t.Errorf("worker invocations got %v, want %v", got, want)
	}

	var wantKeys []string
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			wantKeys = append(wantKeys, grid.Tile{Row: r, Col: c}.Key("demo"))
		}
	}
	if d := cmp.Diff(wantKeys, items.Keys()); d != "" {
		t.Errorf("work list keys diff (-want, +got):\n%v", d)
	}

	// Outcomes come back in work list order regardless of completion order.
	var gotKeys []string
	for _, o := range rep.Outcomes {
		gotKeys = append(gotKeys, o.Key)
	}
	if d := cmp.Diff(wantKeys, gotKeys); d != "" {
		t.Errorf("outcome order diff (-want, +got):\n%v", d)
	}
}

func TestRunIdempotence(t *testing.T) {
	ctx := context.Background()
	bucket := testBucket(t)
	items := demoItems(t)
	guard := tilerun.NewGuard(bucket, nil)

	if _, err := tilerun.Run(ctx, tilerun.Config{Workers: 4}, items, guard, markDone(bucket)); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	// The second run sees every output already present: everything skipped,
	// zero invocations of the body.
	var invocations atomic.Int64
	worker := tilerun.WorkerFunc[grid.Batch](func(context.Context, tilerun.WorkItem[grid.Batch]) error {
		invocations.Add(1)
		return nil
	})
	rep, err := tilerun.Run(ctx, tilerun.Config{Workers: 4}, items, guard, worker)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if got, want := rep.Skipped, 16; got != want {
		t.Errorf("skipped count got %v, want %v", got, want)
	}
	if got := invocations.Load(); got != 0 {
		t.Errorf("worker body ran %v times on a fully done list, want 0", got)
	}
}

func TestRunPartialFailureResume(t *testing.T) {
	ctx := context.Background()
	bucket := testBucket(t)
	items := demoItems(t)
	guard := tilerun.NewGuard(bucket, nil)
	poison := items[7].Key

	worker := tilerun.WorkerFunc[grid.Batch](func(ctx context.Context, item tilerun.WorkItem[grid.Batch]) error {
		if item.Key == poison {
			return errors.New("tile is cursed")
		}
		return bucket.Put(ctx, item.Key, []byte("done"))
	})
	rep, err := tilerun.Run(ctx, tilerun.Config{Workers: 3}, items, guard, worker)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got, want := rep.Done, 15; got != want {
		t.Errorf("done count got %v, want %v", got, want)
	}
	if got, want := rep.Failed, 1; got != want {
		t.Errorf("failed count got %v, want %v", got, want)
	}
	if d := cmp.Diff([]string{poison}, rep.FailedKeys); d != "" {
		t.Errorf("failed keys diff (-want, +got):\n%v", d)
	}

	// Same list again with the cursed item now healthy.
	rep, err = tilerun.Run(ctx, tilerun.Config{Workers: 3}, items, guard, markDone(bucket))
	if err != nil {
		t.Fatalf("resume Run failed: %v", err)
	}
	if got, want := rep.Skipped, 15; got != want {
		t.Errorf("resume skipped count got %v, want %v", got, want)
	}
	if got, want := rep.Done, 1; got != want {
		t.Errorf("resume done count got %v, want %v", got, want)
	}
}

func TestRunRetriesTransient(t *testing.T) {
	ctx := context.Background()
	bucket := testBucket(t)
	items := tilerun.WorkList[int]{{Key: "flaky", Params: 0}}

	var calls atomic.Int64
	worker := tilerun.WorkerFunc[int](func(ctx context.Context, item tilerun.WorkItem[int]) error {
		if calls.Add(1) < 3 {
			return tilerun.Transient(errors.New("throttled"))
		}
		return bucket.Put(ctx, item.Key, []byte("done"))
	})
	cfg := tilerun.Config{Workers: 1, Retries: 3, Backoff: time.Millisecond}
	rep, err := tilerun.Run(ctx, cfg, items, tilerun.NewGuard(bucket, nil), worker)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got, want := rep.Done, 1; got != want {
		t.Errorf("done count got %v, want %v", got, want)
	}
	if got, want := rep.Outcomes[0].Attempts, 3; got != want {
		t.Errorf("attempts got %v, want %v", got, want)
	}
}

func TestRunRetryBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	bucket := testBucket(t)
	items := tilerun.WorkList[int]{{Key: "hopeless", Params: 0}}

	var calls atomic.Int64
	worker := tilerun.WorkerFunc[int](func(context.Context, tilerun.WorkItem[int]) error {
		calls.Add(1)
		return tilerun.Transient(errors.New("throttled"))
	})
	cfg := tilerun.Config{Workers: 1, Retries: 2, Backoff: time.Millisecond}
	rep, err := tilerun.Run(ctx, cfg, items, tilerun.NewGuard(bucket, nil), worker)
	if !errors.Is(err, tilerun.ErrNoProgress) {
		t.Errorf("Run error got %v, want ErrNoProgress", err)
	}
	if got, want := rep.Failed, 1; got != want {
		t.Errorf("failed count got %v, want %v", got, want)
	}
	// The budget is retries after the first try.
	if got, want := calls.Load(), int64(3); got != want {
		t.Errorf("worker invocations got %v, want %v", got, want)
	}
	if !tilerun.IsTransient(rep.Outcomes[0].Err) {
		t.Errorf("final outcome error lost its transient marker: %v", rep.Outcomes[0].Err)
	}
}

func TestRunFatalFailureNotRetried(t *testing.T) {
	ctx := context.Background()
	bucket := testBucket(t)
	items := tilerun.WorkList[int]{{Key: "fatal", Params: 0}}

	var calls atomic.Int64
	worker := tilerun.WorkerFunc[int](func(context.Context, tilerun.WorkItem[int]) error {
		calls.Add(1)
		return errors.New("broken input")
	})
	cfg := tilerun.Config{Workers: 1, Retries: 5, Backoff: time.Millisecond}
	rep, _ := tilerun.Run(ctx, cfg, items, tilerun.NewGuard(bucket, nil), worker)
	if got, want := rep.Failed, 1; got != want {
		t.Errorf("failed count got %v, want %v", got, want)
	}
	if got, want := calls.Load(), int64(1); got != want {
		t.Errorf("fatal error was retried: %v invocations, want %v", got, want)
	}
}

func TestRunBoundedConcurrency(t *testing.T) {
	ctx := context.Background()
	bucket := testBucket(t)

	const items, workers = 10, 3
	const simulated = 50 * time.Millisecond
	wl := make(tilerun.WorkList[int], items)
	for i := range wl {
		wl[i] = tilerun.WorkItem[int]{Key: grid.Tile{Row: 0, Col: i}.Key("load"), Params: i}
	}

	var inFlight, maxInFlight atomic.Int64
	worker := tilerun.WorkerFunc[int](func(ctx context.Context, item tilerun.WorkItem[int]) error {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			seen := maxInFlight.Load()
			if cur <= seen || maxInFlight.CompareAndSwap(seen, cur) {
				break
			}
		}
		time.Sleep(simulated)
		return bucket.Put(ctx, item.Key, []byte("done"))
	})

	started := time.Now()
	rep, err := tilerun.Run(ctx, tilerun.Config{Workers: workers}, wl, tilerun.NewGuard(bucket, nil), worker)
	took := time.Since(started)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got, want := rep.Done, items; got != want {
		t.Errorf("done count got %v, want %v", got, want)
	}
	if got := maxInFlight.Load(); got > workers {
		t.Errorf("observed %v concurrent items, want at most %v", got, workers)
	}
	// ceil(10/3) waves of the simulated delay, far less than serial.
	if min := 4 * simulated; took < min {
		t.Errorf("run took %v, impossible under %v with %v workers", took, min, workers)
	}
	if max := items * simulated; took >= max {
		t.Errorf("run took %v, at least as slow as serial execution (%v)", took, max)
	}
}

// flakyStore fails its first few existence checks, standing in for a store
// that is briefly unreachable.
type flakyStore struct {
	inner    tilerun.Store
	failures atomic.Int64
}

func (s *flakyStore) Exists(ctx context.Context, key string) (bool, error) {
	if s.failures.Add(-1) >= 0 {
		return false, errors.New("store unavailable")
	}
	return s.inner.Exists(ctx, key)
}

func TestRunGuardFailureIsTransient(t *testing.T) {
	ctx := context.Background()
	bucket := testBucket(t)
	flaky := &flakyStore{inner: bucket}
	flaky.failures.Store(2)
	items := tilerun.WorkList[int]{{Key: "k0", Params: 0}}

	cfg := tilerun.Config{Workers: 1, Retries: 3, Backoff: time.Millisecond}
	worker := tilerun.WorkerFunc[int](func(ctx context.Context, item tilerun.WorkItem[int]) error {
		return bucket.Put(ctx, item.Key, []byte("done"))
	})
	rep, err := tilerun.Run(ctx, cfg, items, tilerun.NewGuard(flaky, nil), worker)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got, want := rep.Done, 1; got != want {
		t.Errorf("done count got %v, want %v", got, want)
	}
	// The guard blips consumed budget but not body attempts.
	if got, want := rep.Outcomes[0].Attempts, 1; got != want {
		t.Errorf("attempts got %v, want %v", got, want)
	}
}

func TestRunGuardFailureExhaustsBudget(t *testing.T) {
	ctx := context.Background()
	bucket := testBucket(t)
	flaky := &flakyStore{inner: bucket}
	flaky.failures.Store(100)
	items := tilerun.WorkList[int]{{Key: "k0", Params: 0}}

	cfg := tilerun.Config{Workers: 1, Retries: 1, Backoff: time.Millisecond}
	var calls atomic.Int64
	worker := tilerun.WorkerFunc[int](func(context.Context, tilerun.WorkItem[int]) error {
		calls.Add(1)
		return nil
	})
	rep, err := tilerun.Run(ctx, cfg, items, tilerun.NewGuard(flaky, nil), worker)
	if !errors.Is(err, tilerun.ErrNoProgress) {
		t.Errorf("Run error got %v, want ErrNoProgress", err)
	}
	if got, want := rep.Failed, 1; got != want {
		t.Errorf("failed count got %v, want %v", got, want)
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("worker ran %v times without a clean guard check, want 0", got)
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bucket := testBucket(t)

	wl := make(tilerun.WorkList[int], 5)
	for i := range wl {
		wl[i] = tilerun.WorkItem[int]{Key: grid.Tile{Row: 0, Col: i}.Key("c"), Params: i}
	}

	started := make(chan struct{})
	var once sync.Once
	worker := tilerun.WorkerFunc[int](func(ctx context.Context, item tilerun.WorkItem[int]) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		// In-flight items are allowed to finish.
		return bucket.Put(context.WithoutCancel(ctx), item.Key, []byte("done"))
	})

	go func() {
		<-started
		cancel()
	}()

	rep, err := tilerun.Run(ctx, tilerun.Config{Workers: 1}, wl, tilerun.NewGuard(bucket, nil), worker)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error got %v, want context.Canceled", err)
	}
	if got, want := rep.Done, 1; got != want {
		t.Errorf("done count got %v, want %v", got, want)
	}
	// The rest stays pending for the next run, never failed.
	if got, want := rep.Pending, 4; got != want {
		t.Errorf("pending count got %v, want %v", got, want)
	}
	if got := rep.Failed; got != 0 {
		t.Errorf("failed count got %v, want 0", got)
	}
}

func TestRunConfigurationErrors(t *testing.T) {
	ctx := context.Background()
	bucket := testBucket(t)
	guard := tilerun.NewGuard(bucket, nil)
	items := tilerun.WorkList[int]{{Key: "k0"}}
	ok := tilerun.WorkerFunc[int](func(context.Context, tilerun.WorkItem[int]) error { return nil })

	tests := []struct {
		name   string
		cfg    tilerun.Config
		guard  tilerun.Guard
		worker tilerun.Worker[int]
	}{
		{name: "no workers", cfg: tilerun.Config{}, guard: guard, worker: ok},
		{name: "negative retries", cfg: tilerun.Config{Workers: 1, Retries: -1}, guard: guard, worker: ok},
		{name: "negative backoff", cfg: tilerun.Config{Workers: 1, Backoff: -time.Second}, guard: guard, worker: ok},
		{name: "nil guard", cfg: tilerun.Config{Workers: 1}, guard: nil, worker: ok},
		{name: "nil worker", cfg: tilerun.Config{Workers: 1}, guard: guard, worker: nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rep, err := tilerun.Run(ctx, test.cfg, items, test.guard, test.worker)
			if !tilerun.IsConfiguration(err) {
				t.Errorf("Run error got %v, want a ConfigurationError", err)
			}
			if rep != nil {
				t.Errorf("Run returned a report %+v before dispatch, want nil", rep)
			}
		})
	}
}

func TestRunEmptyList(t *testing.T) {
	ctx := context.Background()
	bucket := testBucket(t)
	rep, err := tilerun.Run(ctx, tilerun.Config{Workers: 1}, tilerun.WorkList[int]{},
		tilerun.NewGuard(bucket, nil),
		tilerun.WorkerFunc[int](func(context.Context, tilerun.WorkItem[int]) error { return nil }))
	if err != nil {
		t.Fatalf("Run failed on an empty list: %v", err)
	}
	if got, want := rep.Total, 0; got != want {
		t.Errorf("total got %v, want %v", got, want)
	}
}
