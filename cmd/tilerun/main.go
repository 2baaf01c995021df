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

// tilerun enumerates a tiled geospatial query into batches, dispatches them
// to a bounded worker pool with idempotent skip-if-done semantics, and
// publishes the assembled outputs.
//
// A run is driven entirely by a YAML file:
//
//	tilerun -config run.yaml
//
// Re-running the same file after a crash or partial failure skips finished
// items and finishes the rest. -cleanup sweeps compute leases a crashed run
// left behind.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"lostluck.dev/tilerun"
	"lostluck.dev/tilerun/assemble"
	"lostluck.dev/tilerun/catalog"
	"lostluck.dev/tilerun/grid"
	"lostluck.dev/tilerun/internal/ctxlog"
	"lostluck.dev/tilerun/internal/manifest"
	"lostluck.dev/tilerun/internal/runlog"
	"lostluck.dev/tilerun/lease"
	"lostluck.dev/tilerun/store"
)

type flags struct {
	Config  string
	Cleanup bool
	Verbose bool
}

func initFlags() *flags {
	var f flags
	flag.StringVar(&f.Config, "config", "", "path to the YAML run configuration (required)")
	flag.BoolVar(&f.Cleanup, "cleanup", false, "sweep leftover compute leases instead of running")
	flag.BoolVar(&f.Verbose, "v", false, "emit debug records on the audit stream")
	return &f
}

func main() {
	f := initFlags()
	flag.Parse()
	if f.Config == "" {
		fmt.Fprintln(os.Stderr, "tilerun: -config is required")
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if f.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(runlog.NewHandler(os.Stderr, &runlog.Options{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = ctxlog.With(ctx, logger)

	os.Exit(run(ctx, f))
}

func run(ctx context.Context, f *flags) int {
	logger := ctxlog.From(ctx)

	file, err := loadRunFile(f.Config)
	if err != nil {
		logger.Error("bad run configuration", "path", f.Config, "error", err)
		return 2
	}

	bucket, err := store.Open(ctx, file.Bucket)
	if err != nil {
		logger.Error("opening bucket failed", "bucket", file.Bucket, "error", err)
		return 2
	}
	defer bucket.Close()

	if f.Cleanup {
		if file.LeasePrefix == "" {
			logger.Error("cleanup requested but lease_prefix is not configured")
			return 2
		}
		n, err := lease.New(bucket, file.LeasePrefix).ReleaseAll(ctx)
		if err != nil {
			logger.Error("sweeping leases failed", "released", n, "error", err)
			return 1
		}
		fmt.Printf("released %d stale leases\n", n)
		return 0
	}

	cfg, err := file.runConfig()
	if err != nil {
		logger.Error("bad run configuration", "error", err)
		return 2
	}
	spec, query, err := file.query()
	if err != nil {
		logger.Error("bad run configuration", "error", err)
		return 2
	}

	cat := catalog.NewBlob(bucket, file.CatalogPrefix)
	missing, err := catalog.HasProducts(ctx, cat, query.Products)
	if err != nil {
		logger.Error("querying catalog products failed", "error", err)
		return 1
	}
	if len(missing) > 0 {
		logger.Error("unknown products", "products", strings.Join(missing, ", "))
		return 2
	}

	batches, err := grid.Enumerate(ctx, spec, query, cat)
	if err != nil {
		logger.Error("enumeration failed", "error", err)
		return 2
	}
	items := tilerun.FromKeyed(batches)

	if file.Name != "" {
		if err := checkResume(ctx, bucket, file.Name, items); err != nil {
			logger.Error("resume identity check failed", "run", file.Name, "error", err)
			return 2
		}
	}

	opts := []tilerun.Options{}
	if file.Name != "" {
		opts = append(opts, tilerun.Name(file.Name))
	}
	if file.LeasePrefix != "" {
		opts = append(opts, tilerun.WithProvisioner(lease.New(bucket, file.LeasePrefix)))
	}

	guard := tilerun.NewGuard(bucket, nil)
	worker := &materializer{cat: cat, b: bucket}
	rep, runErr := tilerun.Run(ctx, cfg, items, guard, worker, opts...)
	if rep == nil {
		logger.Error("run aborted", "error", runErr)
		return 2
	}

	persist(ctx, bucket, rep, items)
	printReport(rep)

	if runErr != nil {
		logger.Error("run failed", "error", runErr)
		return 1
	}

	published := make([]string, 0, rep.Done+rep.Skipped)
	for _, o := range rep.Outcomes {
		if o.Status == tilerun.StatusDone || o.Status == tilerun.StatusSkipped {
			published = append(published, o.Key)
		}
	}
	if err := assemble.Publish(ctx, bucket, published, file.PublishPrefix); err != nil {
		logger.Error("assembly failed", "error", err)
		return 1
	}
	if rep.Failed > 0 {
		return 1
	}
	return 0
}

// manifestKey is the stable location of a named run's manifest, the anchor
// the resume identity check reads.
func manifestKey(name string) string {
	return "runs/named/" + name + "/manifest.json"
}

// checkResume compares the freshly enumerated work list against the
// manifest a previous run stored under the same name. A key-set mismatch
// means the configuration now describes different work; finishing it under
// the old name would mix two logical runs' outputs.
func checkResume[P any](ctx context.Context, bucket *store.Bucket, name string, items tilerun.WorkList[P]) error {
	data, err := bucket.Get(ctx, manifestKey(name))
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return err
	}
	prev, err := manifest.Decode(data)
	if err != nil {
		return err
	}
	fresh := manifest.New("", name, items)
	if !prev.SameKeys(fresh) {
		return tilerun.Configurationf(
			"run %q previously covered %d keys, enumeration now produces a different set of %d; rename the run to start new work",
			name, len(prev.Keys), len(fresh.Keys))
	}
	return nil
}

// persist stores the run's manifest and report next to its outputs, best
// effort: a run that processed its data but can't write its own audit
// record is still a successful run. Named runs also get a stable manifest
// copy for later resume identity checks.
func persist[P any](ctx context.Context, bucket *store.Bucket, rep *tilerun.Report, items tilerun.WorkList[P]) {
	logger := ctxlog.From(ctx)
	prefix := "runs/" + rep.RunID + "/"
	if data, err := manifest.Encode(manifest.New(rep.RunID, rep.Name, items)); err == nil {
		if err := bucket.Put(ctx, prefix+"manifest.json", data); err != nil {
			logger.Warn("persisting manifest failed", "error", err)
		}
		if rep.Name != "" {
			if err := bucket.Put(ctx, manifestKey(rep.Name), data); err != nil {
				logger.Warn("persisting named manifest failed", "error", err)
			}
		}
	} else {
		logger.Warn("encoding manifest failed", "error", err)
	}
	if data, err := manifest.EncodeReport(rep); err == nil {
		if err := bucket.Put(ctx, prefix+"report.json", data); err != nil {
			logger.Warn("persisting report failed", "error", err)
		}
	} else {
		logger.Warn("encoding report failed", "error", err)
	}
}

func printReport(rep *tilerun.Report) {
	p := message.NewPrinter(language.English)
	name := rep.Name
	if name == "" {
		name = rep.RunID
	}
	p.Printf("run %s: %d items: %d done, %d skipped, %d failed, %d pending in %v\n",
		name, rep.Total, rep.Done, rep.Skipped, rep.Failed, rep.Pending,
		rep.Finished.Sub(rep.Started).Round(10*time.Millisecond))
	for _, key := range rep.FailedKeys {
		p.Printf("  failed: %s\n", key)
	}
}
