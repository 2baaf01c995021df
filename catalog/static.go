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
	"slices"

	"lostluck.dev/tilerun/grid"
)

// Static is an in-memory catalog, mostly for tests and small fixed runs.
// It also resolves named AOIs, satisfying grid.Resolver.
type Static struct {
	granules []Granule
	aois     map[string][]grid.Point
}

// NewStatic copies the given granules into a catalog.
func NewStatic(granules []Granule) *Static {
	return &Static{granules: slices.Clone(granules)}
}

// WithAOI registers a named area of interest and returns the catalog for
// chaining.
func (c *Static) WithAOI(name string, boundary []grid.Point) *Static {
	if c.aois == nil {
		c.aois = map[string][]grid.Point{}
	}
	c.aois[name] = slices.Clone(boundary)
	return c
}

func (c *Static) Granules(_ context.Context, f Filter) ([]Granule, error) {
	var out []Granule
	for _, g := range c.granules {
		if g.matches(f) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (c *Static) Products(context.Context) ([]string, error) {
	var out []string
	for _, g := range c.granules {
		if !slices.Contains(out, g.Product) {
			out = append(out, g.Product)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Boundary resolves a registered AOI.
func (c *Static) Boundary(_ context.Context, name string) ([]grid.Point, error) {
	b, ok := c.aois[name]
	if !ok {
		return nil, errUnknownAOI(name)
	}
	return b, nil
}

var (
	_ Catalog       = (*Static)(nil)
	_ grid.Resolver = (*Static)(nil)
)
