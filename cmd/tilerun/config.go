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

package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"lostluck.dev/tilerun"
	"lostluck.dev/tilerun/grid"
)

// runFile is the YAML run configuration. Granularity, retry budget and
// backoff are externally supplied values with no built-in defaults.
type runFile struct {
	Name string `yaml:"name"`

	Bucket        string `yaml:"bucket"`
	PublishPrefix string `yaml:"publish_prefix"`
	CatalogPrefix string `yaml:"catalog_prefix"`
	LeasePrefix   string `yaml:"lease_prefix"`

	Workers    int    `yaml:"workers"`
	Retries    int    `yaml:"retries"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`

	Grid struct {
		TileSize   float64 `yaml:"tile_size"`
		Resolution float64 `yaml:"resolution"`
		OriginX    float64 `yaml:"origin_x"`
		OriginY    float64 `yaml:"origin_y"`
	} `yaml:"grid"`

	ROI struct {
		BBox     []float64   `yaml:"bbox"`     // [west, south, east, north]
		Boundary [][]float64 `yaml:"boundary"` // [[x, y], ...]
		AOI      string      `yaml:"aoi"`
	} `yaml:"roi"`

	Time struct {
		Start string `yaml:"start"` // RFC 3339
		End   string `yaml:"end"`
	} `yaml:"time"`

	Products  []string `yaml:"products"`
	GroupSize int      `yaml:"group_size"`
}

func loadRunFile(path string) (*runFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &tilerun.ConfigurationError{Err: err}
	}
	var f runFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, &tilerun.ConfigurationError{Err: err}
	}
	if f.Bucket == "" {
		return nil, tilerun.Configurationf("bucket is required")
	}
	if f.PublishPrefix == "" {
		return nil, tilerun.Configurationf("publish_prefix is required")
	}
	if f.CatalogPrefix == "" {
		return nil, tilerun.Configurationf("catalog_prefix is required")
	}
	return &f, nil
}

// runConfig translates the file into dispatcher configuration. Validation of
// the numbers themselves happens in tilerun.Run.
func (f *runFile) runConfig() (tilerun.Config, error) {
	cfg := tilerun.Config{
		Workers: f.Workers,
		Retries: f.Retries,
	}
	var err error
	if f.Backoff != "" {
		if cfg.Backoff, err = time.ParseDuration(f.Backoff); err != nil {
			return tilerun.Config{}, tilerun.Configurationf("bad backoff %q: %v", f.Backoff, err)
		}
	}
	if f.MaxBackoff != "" {
		if cfg.MaxBackoff, err = time.ParseDuration(f.MaxBackoff); err != nil {
			return tilerun.Config{}, tilerun.Configurationf("bad max_backoff %q: %v", f.MaxBackoff, err)
		}
	}
	return cfg, nil
}

// query translates the file into the enumerator's spec and query. The
// exactly-one rule for the region of interest is enforced by
// grid.Enumerate; this only reshapes the YAML.
func (f *runFile) query() (grid.Spec, grid.Query, error) {
	spec := grid.Spec{
		TileSize:   f.Grid.TileSize,
		Resolution: f.Grid.Resolution,
		OriginX:    f.Grid.OriginX,
		OriginY:    f.Grid.OriginY,
	}

	var extent grid.Extent
	if len(f.ROI.BBox) > 0 {
		if len(f.ROI.BBox) != 4 {
			return grid.Spec{}, grid.Query{}, tilerun.Configurationf("roi.bbox needs 4 numbers [west, south, east, north], got %d", len(f.ROI.BBox))
		}
		extent.BBox = &grid.BBox{
			West:  f.ROI.BBox[0],
			South: f.ROI.BBox[1],
			East:  f.ROI.BBox[2],
			North: f.ROI.BBox[3],
		}
	}
	for i, pt := range f.ROI.Boundary {
		if len(pt) != 2 {
			return grid.Spec{}, grid.Query{}, tilerun.Configurationf("roi.boundary[%d] needs 2 numbers [x, y], got %d", i, len(pt))
		}
		extent.Boundary = append(extent.Boundary, grid.Point{X: pt[0], Y: pt[1]})
	}
	extent.AOI = f.ROI.AOI

	var tr grid.TimeRange
	var err error
	if f.Time.Start != "" {
		if tr.Start, err = time.Parse(time.RFC3339, f.Time.Start); err != nil {
			return grid.Spec{}, grid.Query{}, tilerun.Configurationf("bad time.start %q: %v", f.Time.Start, err)
		}
	}
	if f.Time.End != "" {
		if tr.End, err = time.Parse(time.RFC3339, f.Time.End); err != nil {
			return grid.Spec{}, grid.Query{}, tilerun.Configurationf("bad time.end %q: %v", f.Time.End, err)
		}
	}

	return spec, grid.Query{
		Extent:    extent,
		Time:      tr,
		Products:  f.Products,
		GroupSize: f.GroupSize,
	}, nil
}
