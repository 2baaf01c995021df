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
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"lostluck.dev/tilerun/internal/ctxlog"
	"lostluck.dev/tilerun/internal/runopts"
)

// Config holds the externally supplied run parameters. There are no guessed
// defaults: Workers is required, and a zero retry budget means transient
// failures are recorded as failed on their first occurrence.
type Config struct {
	// Workers bounds the number of concurrently executing work items.
	Workers int
	// Retries is the per-item retry budget for transient failures.
	Retries int
	// Backoff is the delay before the first retry, doubling on each
	// subsequent retry. Zero retries immediately.
	Backoff time.Duration
	// MaxBackoff caps the doubling when positive.
	MaxBackoff time.Duration
}

func (c Config) validate() error {
	if c.Workers < 1 {
		return Configurationf("Workers must be at least 1, got %d", c.Workers)
	}
	if c.Retries < 0 {
		return Configurationf("Retries must not be negative, got %d", c.Retries)
	}
	if c.Backoff < 0 || c.MaxBackoff < 0 {
		return Configurationf("backoff durations must not be negative, got %v and %v", c.Backoff, c.MaxBackoff)
	}
	return nil
}

// backoffFor returns the delay before the retry'th retry, 1-based.
func (c Config) backoffFor(retry int) time.Duration {
	d := c.Backoff
	for i := 1; i < retry; i++ {
		d *= 2
		if c.MaxBackoff > 0 && d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

// Run dispatches every item in the work list to at most cfg.Workers
// concurrent invocations of the worker body, consulting the guard before
// each invocation so already-finished items are skipped without doing any
// compute.
//
// Per-item failures never abort the run. Run returns a non-nil error only
// for an invalid Config (ConfigurationError, before any dispatch), for a
// cancelled context, or when a non-empty list finishes with nothing done or
// skipped (ErrNoProgress). The Report is non-nil in all but the
// configuration case.
//
// Items are dispatched in list order as pool slots free up; order is a
// priority hint only and never affects correctness.
func Run[P any](ctx context.Context, cfg Config, items WorkList[P], guard Guard, worker Worker[P], opts ...Options) (*Report, error) {
	var opt runopts.Struct
	opt.Join(opts...)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if guard == nil {
		return nil, Configurationf("a Guard is required")
	}
	if worker == nil {
		return nil, Configurationf("a Worker is required")
	}

	logger := opt.Logger
	if logger == nil {
		logger = ctxlog.From(ctx)
	}
	rep := &Report{
		RunID:   uuid.NewString(),
		Name:    opt.Name,
		Started: time.Now().UTC(),
		Total:   len(items),
	}
	logger = logger.With("runID", rep.RunID)
	if opt.Name != "" {
		logger = logger.With("run", opt.Name)
	}
	logger.Info("run started", "items", len(items), "workers", cfg.Workers)

	var (
		mu       sync.Mutex
		outcomes = make(map[string]Outcome, len(items))
	)
	var eg errgroup.Group
	eg.SetLimit(cfg.Workers)
	for _, item := range items {
		if ctx.Err() != nil {
			// Stop handing out new items; whatever is in flight may finish.
			break
		}
		item := item
		eg.Go(func() error {
			o := runOne(ctx, cfg, guard, worker, opt.Provisioner, logger, item)
			logOutcome(logger, o)
			mu.Lock()
			outcomes[o.Key] = o
			mu.Unlock()
			return nil
		})
	}
	eg.Wait()

	rep.Finished = time.Now().UTC()
	rep.finalize(items.Keys(), outcomes)
	logger.Info("run finished",
		"done", rep.Done, "skipped", rep.Skipped,
		"failed", rep.Failed, "pending", rep.Pending,
		"took", rep.Finished.Sub(rep.Started))

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	if rep.Total > 0 && rep.Done+rep.Skipped == 0 {
		return rep, ErrNoProgress
	}
	return rep, nil
}

// runOne drives a single item through its state machine:
//
//	pending -> guard -> skipped
//	        -> body  -> done
//	                 -> transient failure -> backoff, pending again
//	                 -> fatal failure     -> failed
//
// Guard failures are transient for this item only, and share the retry
// budget with body failures.
func runOne[P any](ctx context.Context, cfg Config, guard Guard, worker Worker[P], prov Provisioner, logger *slog.Logger, item WorkItem[P]) Outcome {
	var tries, attempts int
	for {
		if ctx.Err() != nil {
			return Outcome{Key: item.Key, Status: StatusPending, Attempts: attempts}
		}

		var ferr error
		done, gerr := guard.Done(ctx, item.Key)
		switch {
		case gerr != nil:
			ferr = Transient(errors.Wrapf(gerr, "existence check for %q", item.Key))
		case done:
			return Outcome{Key: item.Key, Status: StatusSkipped, Attempts: attempts}
		default:
			attempts++
			ferr = invoke(ctx, worker, prov, logger, item)
			if ferr == nil {
				return Outcome{Key: item.Key, Status: StatusDone, Attempts: attempts}
			}
		}

		tries++
		if !IsTransient(ferr) || tries > cfg.Retries {
			return Outcome{Key: item.Key, Status: StatusFailed, Attempts: attempts, Err: ferr}
		}
		logger.Debug("retrying work item", "key", item.Key, "try", tries, "error", ferr)
		if !sleepCtx(ctx, cfg.backoffFor(tries)) {
			// Cancelled mid backoff. Atomic publish means nothing partial is
			// visible, so the item simply stays pending for the next run.
			return Outcome{Key: item.Key, Status: StatusPending, Attempts: attempts}
		}
	}
}

// invoke runs the worker body, bracketed by the provisioner when one is
// configured. The compute handle is released on every exit path.
func invoke[P any](ctx context.Context, worker Worker[P], prov Provisioner, logger *slog.Logger, item WorkItem[P]) error {
	if prov != nil {
		release, err := prov.Acquire(ctx, item.Key)
		if err != nil {
			// Failing to provision says nothing about the item itself.
			return Transient(errors.Wrapf(err, "provisioning for %q", item.Key))
		}
		defer func() {
			if rerr := release(); rerr != nil {
				logger.Warn("releasing compute handle failed", "key", item.Key, "error", rerr)
			}
		}()
	}
	return worker.Process(ctx, item)
}

func logOutcome(logger *slog.Logger, o Outcome) {
	switch o.Status {
	case StatusFailed:
		logger.Error("work item failed", "key", o.Key, "status", o.Status, "attempts", o.Attempts, "error", o.Err)
	default:
		logger.Info("work item finished", "key", o.Key, "status", o.Status, "attempts", o.Attempts)
	}
}

// sleepCtx sleeps for d, reporting false if the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
