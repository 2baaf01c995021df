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

// Package assemble consolidates the intermediate part objects a run's
// workers produced into final published artifacts.
//
// Workers leave ordered parts at staging/<key>/output_<n>, a sibling prefix
// of the done marker at <key>: hierarchical stores (fileblob) reject an
// object whose name is a prefix of another object's directory, so nothing
// may ever live under <key> itself. Publish stitches each item's parts
// together under the publish prefix, then removes the intermediates. The
// final write is atomic like every other store write, so an assembly
// interrupted half way leaves the intermediates in place and a re-run
// finishes the job.
package assemble

import (
	"bytes"
	"context"
	stderrors "errors"
	"path"

	"github.com/pkg/errors"

	"lostluck.dev/tilerun/internal/ctxlog"
	"lostluck.dev/tilerun/store"
)

// PartPrefix is where workers stage intermediate outputs for an item key.
// It is a sibling of the done marker at <key>, never nested under it.
func PartPrefix(key string) string {
	return "staging/" + key + "/output_"
}

// Publish stitches each key's parts into <prefix>/<key> and deletes the
// intermediates. Keys whose final artifact already exists are skipped, so
// Publish is idempotent and resumable. A single key's failure doesn't stop
// the others; the joined error reports them all.
func Publish(ctx context.Context, b *store.Bucket, keys []string, prefix string) error {
	logger := ctxlog.From(ctx)
	var errs []error
	for _, key := range keys {
		if err := publishOne(ctx, b, key, prefix); err != nil {
			logger.Error("publishing failed", "key", key, "error", err)
			errs = append(errs, errors.Wrapf(err, "assemble: %q", key))
			continue
		}
		logger.Info("published", "key", key, "to", Final(prefix, key))
	}
	return stderrors.Join(errs...)
}

// Final is the published artifact's object name for an item key.
func Final(prefix, key string) string {
	return path.Join(prefix, key)
}

func publishOne(ctx context.Context, b *store.Bucket, key, prefix string) error {
	final := Final(prefix, key)
	if ok, err := b.Exists(ctx, final); err != nil {
		return err
	} else if ok {
		return nil
	}

	parts, err := b.List(ctx, PartPrefix(key))
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return errors.Errorf("no parts found under %q", PartPrefix(key))
	}

	// Parts come back in lexical order, which is part order by construction.
	var buf bytes.Buffer
	for _, part := range parts {
		data, err := b.Get(ctx, part)
		if err != nil {
			return err
		}
		buf.Write(data)
	}
	if err := b.Put(ctx, final, buf.Bytes()); err != nil {
		return err
	}

	// The final artifact is published; intermediates are now garbage. The
	// item's done marker at <key> stays, it is the idempotency signal.
	for _, part := range parts {
		if err := b.Delete(ctx, part); err != nil {
			return err
		}
	}
	return nil
}
