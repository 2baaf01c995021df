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

// Package grid partitions a spatial/temporal query into tile batches, the
// work enumerator for a tilerun run.
//
// Enumeration is deterministic and side effect free: the same spec and
// query always produce the same batches with the same keys, in the same
// order, so a restarted run can be matched against the outputs of a
// previous one.
package grid

import (
	"context"
	"fmt"
	"math"
	"time"

	"lostluck.dev/tilerun"
)

// Spec describes a regular tile grid in the ground units of its projection,
// anchored at an origin. Tiles are indexed by (row, col) from the origin,
// rows growing north and columns growing east.
type Spec struct {
	// TileSize is the ground length of a tile edge.
	TileSize float64
	// Resolution is the ground length of one pixel, recorded on each tile so
	// workers can derive raster shapes.
	Resolution float64
	// OriginX, OriginY anchor tile (0, 0)'s south-west corner.
	OriginX, OriginY float64
}

func (s Spec) validate() error {
	if s.TileSize <= 0 {
		return tilerun.Configurationf("grid: TileSize must be positive, got %v", s.TileSize)
	}
	if s.Resolution < 0 {
		return tilerun.Configurationf("grid: Resolution must not be negative, got %v", s.Resolution)
	}
	return nil
}

// BBox is an axis-aligned bounding box, [west, south, east, north].
type BBox struct {
	West, South, East, North float64
}

func (b BBox) empty() bool {
	return b.East <= b.West || b.North <= b.South
}

// Intersects reports whether two boxes share any area.
func (b BBox) Intersects(o BBox) bool {
	return b.West < o.East && o.West < b.East && b.South < o.North && o.South < b.North
}

// Point is a position in grid ground units.
type Point struct {
	X, Y float64
}

// Extent is the region of interest for a run. Exactly one of BBox, Boundary
// or AOI must be set; anything else is a configuration error.
type Extent struct {
	// BBox selects everything inside a bounding box.
	BBox *BBox
	// Boundary selects everything intersecting a polygon ring. The ring
	// needs at least three points and is implicitly closed.
	Boundary []Point
	// AOI names a stored area of interest, resolved to a boundary through
	// the Resolver passed to Enumerate.
	AOI string
}

// Resolver looks up a named area of interest's boundary polygon. It must be
// read only; enumeration performs no mutating calls.
type Resolver interface {
	Boundary(ctx context.Context, name string) ([]Point, error)
}

// TimeRange is the half-open observation window [Start, End) of a run.
type TimeRange struct {
	Start, End time.Time
}

func (tr TimeRange) validate() error {
	if tr.Start.IsZero() || tr.End.IsZero() {
		return tilerun.Configurationf("grid: both Start and End of the time range are required")
	}
	if tr.End.Before(tr.Start) {
		return tilerun.Configurationf("grid: time range ends %v before it starts %v", tr.End, tr.Start)
	}
	return nil
}

// Query is everything that selects the work of a run.
type Query struct {
	Extent   Extent
	Time     TimeRange
	Products []string
	// GroupSize is how many consecutive tiles to group into one batch, the
	// externally supplied batching granularity. It must be at least 1.
	GroupSize int
}

// Tile is one grid cell, with its ground bounds.
type Tile struct {
	Row, Col int
	Bounds   BBox
}

// Key is the tile's stable identifier under the given product.
func (t Tile) Key(product string) string {
	return fmt.Sprintf("%s/r%d/c%d", product, t.Row, t.Col)
}

// Batch is one unit of batched work: one or more tiles of a single product
// over the query's time range. Tiles must be non-empty; Enumerate never
// produces an empty batch, and WorkKey is undefined without a first tile.
type Batch struct {
	Product    string
	Tiles      []Tile
	Time       TimeRange
	Resolution float64
}

// WorkKey returns the batch's stable key: the key of its first tile, with a
// +n suffix when the batch groups more than one tile. Re-enumeration with
// identical inputs always reproduces it.
func (b Batch) WorkKey() string {
	key := b.Tiles[0].Key(b.Product)
	if len(b.Tiles) > 1 {
		key = fmt.Sprintf("%s+%d", key, len(b.Tiles))
	}
	return key
}

// Enumerate partitions the query into batches: per product, the tiles
// intersecting the extent in row-major order, grouped GroupSize at a time.
// The resolver is only consulted for named AOI extents and may be nil
// otherwise.
//
// All failure modes are configuration errors; enumeration never mutates
// anything.
func Enumerate(ctx context.Context, spec Spec, q Query, r Resolver) ([]Batch, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if err := q.Time.validate(); err != nil {
		return nil, err
	}
	if len(q.Products) == 0 {
		return nil, tilerun.Configurationf("grid: at least one product is required")
	}
	if q.GroupSize < 1 {
		return nil, tilerun.Configurationf("grid: GroupSize must be at least 1, got %d", q.GroupSize)
	}

	bounds, boundary, err := resolveExtent(ctx, q.Extent, r)
	if err != nil {
		return nil, err
	}

	tiles := spec.cover(bounds, boundary)
	if len(tiles) == 0 {
		return nil, tilerun.Configurationf("grid: extent %+v covers no tiles", bounds)
	}

	var batches []Batch
	for _, product := range q.Products {
		for i := 0; i < len(tiles); i += q.GroupSize {
			end := min(i+q.GroupSize, len(tiles))
			batches = append(batches, Batch{
				Product:    product,
				Tiles:      tiles[i:end:end],
				Time:       q.Time,
				Resolution: spec.Resolution,
			})
		}
	}
	return batches, nil
}

// resolveExtent validates the exactly-one rule and reduces the extent to a
// bounding box plus an optional boundary polygon.
func resolveExtent(ctx context.Context, e Extent, r Resolver) (BBox, []Point, error) {
	set := 0
	if e.BBox != nil {
		set++
	}
	if len(e.Boundary) > 0 {
		set++
	}
	if e.AOI != "" {
		set++
	}
	if set == 0 {
		return BBox{}, nil, tilerun.Configurationf("grid: extent needs one of BBox, Boundary or AOI")
	}
	if set > 1 {
		return BBox{}, nil, tilerun.Configurationf("grid: extent may only have one of BBox, Boundary or AOI")
	}

	boundary := e.Boundary
	if e.AOI != "" {
		if r == nil {
			return BBox{}, nil, tilerun.Configurationf("grid: extent names AOI %q but no resolver is configured", e.AOI)
		}
		var err error
		boundary, err = r.Boundary(ctx, e.AOI)
		if err != nil {
			return BBox{}, nil, &tilerun.ConfigurationError{Err: err}
		}
	}

	if e.BBox != nil {
		if e.BBox.empty() {
			return BBox{}, nil, tilerun.Configurationf("grid: bounding box %+v is empty", *e.BBox)
		}
		return *e.BBox, nil, nil
	}

	if len(boundary) < 3 {
		return BBox{}, nil, tilerun.Configurationf("grid: boundary polygon needs at least 3 points, got %d", len(boundary))
	}
	bounds := BBox{West: math.Inf(1), South: math.Inf(1), East: math.Inf(-1), North: math.Inf(-1)}
	for _, p := range boundary {
		bounds.West = math.Min(bounds.West, p.X)
		bounds.South = math.Min(bounds.South, p.Y)
		bounds.East = math.Max(bounds.East, p.X)
		bounds.North = math.Max(bounds.North, p.Y)
	}
	if bounds.empty() {
		return BBox{}, nil, tilerun.Configurationf("grid: boundary polygon %+v spans no area", boundary)
	}
	return bounds, boundary, nil
}

// cover lists the tiles intersecting the bounds in row-major order,
// filtered against the boundary polygon when one is present.
func (s Spec) cover(bounds BBox, boundary []Point) []Tile {
	minCol := int(math.Floor((bounds.West - s.OriginX) / s.TileSize))
	maxCol := int(math.Ceil((bounds.East-s.OriginX)/s.TileSize)) - 1
	minRow := int(math.Floor((bounds.South - s.OriginY) / s.TileSize))
	maxRow := int(math.Ceil((bounds.North-s.OriginY)/s.TileSize)) - 1

	var tiles []Tile
	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			t := Tile{
				Row: row,
				Col: col,
				Bounds: BBox{
					West:  s.OriginX + float64(col)*s.TileSize,
					South: s.OriginY + float64(row)*s.TileSize,
					East:  s.OriginX + float64(col+1)*s.TileSize,
					North: s.OriginY + float64(row+1)*s.TileSize,
				},
			}
			if !t.Bounds.Intersects(bounds) {
				continue
			}
			if boundary != nil && !polygonIntersectsRect(boundary, t.Bounds) {
				continue
			}
			tiles = append(tiles, t)
		}
	}
	return tiles
}
