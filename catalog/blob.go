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

package catalog

import (
	"context"
	"path"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/pkg/errors"

	"lostluck.dev/tilerun/grid"
	"lostluck.dev/tilerun/store"
)

// Blob reads a catalog index stored as objects in a bucket:
//
//	<prefix>/products/<product>.json   a JSON array of granules
//	<prefix>/aoi/<name>.json           a JSON array of boundary points
//
// It is read only and safe for concurrent use. Like Static it doubles as a
// grid.Resolver for named AOIs.
type Blob struct {
	b      *store.Bucket
	prefix string
}

// NewBlob opens the index under prefix in the given bucket.
func NewBlob(b *store.Bucket, prefix string) *Blob {
	return &Blob{b: b, prefix: strings.TrimSuffix(prefix, "/")}
}

func (c *Blob) Granules(ctx context.Context, f Filter) ([]Granule, error) {
	products := []string{f.Product}
	if f.Product == "" {
		var err error
		products, err = c.Products(ctx)
		if err != nil {
			return nil, err
		}
	}

	var out []Granule
	for _, product := range products {
		data, err := c.b.Get(ctx, c.productKey(product))
		if err != nil {
			if store.IsNotFound(err) {
				return nil, errors.Errorf("catalog: unknown product %q", product)
			}
			return nil, err
		}
		var granules []Granule
		if err := json.Unmarshal(data, &granules); err != nil {
			return nil, errors.Wrapf(err, "catalog: decoding index for %q", product)
		}
		for _, g := range granules {
			if g.matches(f) {
				out = append(out, g)
			}
		}
	}
	return out, nil
}

func (c *Blob) Products(ctx context.Context) ([]string, error) {
	keys, err := c.b.List(ctx, c.prefix+"/products/")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		name := path.Base(key)
		out = append(out, strings.TrimSuffix(name, ".json"))
	}
	return out, nil
}

// Boundary resolves a named AOI from the index, for extents that reference
// a stored polygon rather than carrying one inline.
func (c *Blob) Boundary(ctx context.Context, name string) ([]grid.Point, error) {
	data, err := c.b.Get(ctx, c.prefix+"/aoi/"+name+".json")
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errUnknownAOI(name)
		}
		return nil, err
	}
	var pts []grid.Point
	if err := json.Unmarshal(data, &pts); err != nil {
		return nil, errors.Wrapf(err, "catalog: decoding AOI %q", name)
	}
	return pts, nil
}

func (c *Blob) productKey(product string) string {
	return c.prefix + "/products/" + product + ".json"
}

func errUnknownAOI(name string) error {
	return errors.Errorf("catalog: unknown AOI %q", name)
}

var (
	_ Catalog       = (*Blob)(nil)
	_ grid.Resolver = (*Blob)(nil)
)
