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

// Package catalog is the read-only granule index an enumerator and worker
// body query: given a spatial/temporal/product filter, which addressable
// granules exist.
package catalog

import (
	"context"
	"slices"
	"time"

	"lostluck.dev/tilerun/grid"
)

// Granule is one addressable unit of source data.
type Granule struct {
	ID      string    `json:"id"`
	Product string    `json:"product"`
	Bounds  grid.BBox `json:"bounds"`
	Time    time.Time `json:"time"`
	URI     string    `json:"uri"`
}

// Filter selects granules. Zero fields match everything.
type Filter struct {
	Product string
	Bounds  grid.BBox
	Time    grid.TimeRange
}

// Catalog is the query surface. Implementations must be read only and safe
// for concurrent use.
type Catalog interface {
	// Granules returns the granules matching the filter.
	Granules(ctx context.Context, f Filter) ([]Granule, error)
	// Products returns the known product identifiers.
	Products(ctx context.Context) ([]string, error)
}

// HasProducts checks that every wanted product is known to the catalog,
// returning the unknown ones.
func HasProducts(ctx context.Context, c Catalog, wanted []string) (missing []string, err error) {
	known, err := c.Products(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range wanted {
		if !slices.Contains(known, p) {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

func (g Granule) matches(f Filter) bool {
	if f.Product != "" && g.Product != f.Product {
		return false
	}
	if f.Bounds != (grid.BBox{}) && !g.Bounds.Intersects(f.Bounds) {
		return false
	}
	if !f.Time.Start.IsZero() && g.Time.Before(f.Time.Start) {
		return false
	}
	if !f.Time.End.IsZero() && !g.Time.Before(f.Time.End) {
		return false
	}
	return true
}
