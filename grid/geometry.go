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

package grid

// Plain 2D geometry for tile filtering. The grid works in projected ground
// units, so all of this is flat-earth math on purpose.

// polygonIntersectsRect reports whether the (implicitly closed) ring shares
// any area with the rectangle: a rect corner inside the polygon, a polygon
// vertex inside the rect, or any ring edge crossing the rect.
func polygonIntersectsRect(ring []Point, r BBox) bool {
	for _, p := range ring {
		if r.contains(p) {
			return true
		}
	}
	for _, c := range r.corners() {
		if pointInPolygon(c, ring) {
			return true
		}
	}
	for i := range ring {
		a, b := ring[i], ring[(i+1)%len(ring)]
		if segmentIntersectsRect(a, b, r) {
			return true
		}
	}
	return false
}

func (b BBox) contains(p Point) bool {
	return p.X >= b.West && p.X <= b.East && p.Y >= b.South && p.Y <= b.North
}

func (b BBox) corners() [4]Point {
	return [4]Point{
		{b.West, b.South},
		{b.East, b.South},
		{b.East, b.North},
		{b.West, b.North},
	}
}

// pointInPolygon is the even-odd ray cast.
func pointInPolygon(p Point, ring []Point) bool {
	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Y > p.Y) != (b.Y > p.Y) &&
			p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			inside = !inside
		}
	}
	return inside
}

// segmentIntersectsRect clips the segment against the rect, Liang-Barsky.
func segmentIntersectsRect(a, b Point, r BBox) bool {
	dx, dy := b.X-a.X, b.Y-a.Y
	t0, t1 := 0.0, 1.0

	clip := func(p, q float64) bool {
		if p == 0 {
			return q >= 0
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return false
			}
			if t > t0 {
				t0 = t
			}
		} else {
			if t < t0 {
				return false
			}
			if t < t1 {
				t1 = t
			}
		}
		return true
	}

	return clip(-dx, a.X-r.West) &&
		clip(dx, r.East-a.X) &&
		clip(-dy, a.Y-r.South) &&
		clip(dy, r.North-a.Y)
}
