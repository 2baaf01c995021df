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

// Package store wraps a gocloud.dev bucket as the durable object store for
// run outputs.
//
// The load bearing guarantee is atomic visibility: writes go through a blob
// writer that only publishes the object when Close succeeds, so an
// existence check never observes a partially written artifact. Everything
// the idempotency guard promises rests on that.
package store

import (
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Bucket is a thin wrapper over a blob bucket with the operations a run
// needs: existence checks, atomic puts, listing, copying and deleting.
// It is safe for concurrent use.
type Bucket struct {
	b *blob.Bucket
}

// Open opens the bucket at the given driver URL (s3://, file://, mem://,
// depending on the drivers linked into the binary).
func Open(ctx context.Context, url string) (*Bucket, error) {
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "store: opening bucket %q", url)
	}
	return &Bucket{b: b}, nil
}

// New wraps an already opened bucket. The caller keeps ownership for tests
// that build buckets directly (memblob and friends).
func New(b *blob.Bucket) *Bucket {
	return &Bucket{b: b}
}

// Close releases the underlying bucket.
func (s *Bucket) Close() error {
	return errors.Wrap(s.b.Close(), "store: closing bucket")
}

// Exists reports whether an object is published at key. It satisfies
// tilerun's guard Store contract.
func (s *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.b.Exists(ctx, key)
	if err != nil {
		return false, errors.Wrapf(err, "store: existence of %q", key)
	}
	return ok, nil
}

// Put writes data to key and publishes it atomically on success. On error
// nothing becomes visible at key.
func (s *Bucket) Put(ctx context.Context, key string, data []byte) error {
	return s.PutFrom(ctx, key, bytes.NewReader(data))
}

// PutFrom streams r to key, publishing the object only when the whole write
// succeeds. Cancelling the writer's context before Close is how blob aborts
// a staged write.
func (s *Bucket) PutFrom(ctx context.Context, key string, r io.Reader) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, err := s.b.NewWriter(wctx, key, nil)
	if err != nil {
		return errors.Wrapf(err, "store: writer for %q", key)
	}
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		w.Close()
		return errors.Wrapf(err, "store: writing %q", key)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "store: publishing %q", key)
	}
	return nil
}

// Get reads the whole object at key.
func (s *Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.b.ReadAll(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "store: reading %q", key)
	}
	return data, nil
}

// List returns the keys under prefix in lexical order.
func (s *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.b.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return keys, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "store: listing %q", prefix)
		}
		keys = append(keys, obj.Key)
	}
}

// Copy duplicates the object at src to dst.
func (s *Bucket) Copy(ctx context.Context, dst, src string) error {
	return errors.Wrapf(s.b.Copy(ctx, dst, src, nil), "store: copying %q to %q", src, dst)
}

// Delete removes the object at key.
func (s *Bucket) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(s.b.Delete(ctx, key), "store: deleting %q", key)
}

// IsNotFound reports whether err is the store's not-found condition.
func IsNotFound(err error) bool {
	return gcerrors.Code(errors.Cause(err)) == gcerrors.NotFound
}
