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
	"context"
	"fmt"

	"github.com/go-json-experiment/json"

	"lostluck.dev/tilerun"
	"lostluck.dev/tilerun/assemble"
	"lostluck.dev/tilerun/catalog"
	"lostluck.dev/tilerun/grid"
	"lostluck.dev/tilerun/store"
)

// materializer is the built-in worker body: per tile in the batch it
// resolves the matching granules and stages them as a part object, then
// publishes the item's done marker last. Real processing plugs in here; the
// staging and marker discipline is what any body must follow so the guard
// and assemble stay correct.
type materializer struct {
	cat catalog.Catalog
	b   *store.Bucket
}

// tilePart is the staged intermediate for one tile.
type tilePart struct {
	Tile     grid.Tile         `json:"tile"`
	Granules []catalog.Granule `json:"granules"`
}

// marker is the content of the item's done marker at <key>.
type marker struct {
	Product string `json:"product"`
	Tiles   int    `json:"tiles"`
	Parts   int    `json:"parts"`
}

func (m *materializer) Process(ctx context.Context, item tilerun.WorkItem[grid.Batch]) error {
	batch := item.Params
	for i, tile := range batch.Tiles {
		granules, err := m.cat.Granules(ctx, catalog.Filter{
			Product: batch.Product,
			Bounds:  tile.Bounds,
			Time:    batch.Time,
		})
		if err != nil {
			// The catalog read is retryable; nothing partial is visible yet.
			return tilerun.Transient(err)
		}
		data, err := json.Marshal(tilePart{Tile: tile, Granules: granules})
		if err != nil {
			return err
		}
		part := fmt.Sprintf("%s%06d", assemble.PartPrefix(item.Key), i)
		if err := m.b.Put(ctx, part, data); err != nil {
			return tilerun.Transient(err)
		}
	}

	// The marker goes last: once it is visible the item is done, and the
	// store publishes it atomically so it is never half visible.
	data, err := json.Marshal(marker{
		Product: batch.Product,
		Tiles:   len(batch.Tiles),
		Parts:   len(batch.Tiles),
	})
	if err != nil {
		return err
	}
	if err := m.b.Put(ctx, item.Key, data); err != nil {
		return tilerun.Transient(err)
	}
	return nil
}
