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

// Package manifest serializes the durable run records: the work list a run
// was started with, and the report it finished with. A resumed run compares
// its freshly enumerated keys against the stored manifest to confirm it is
// resuming the same logical run.
package manifest

import (
	"time"

	"github.com/go-json-experiment/json"
	"github.com/pkg/errors"

	"lostluck.dev/tilerun"
)

// Manifest records the identity of a run's work list.
type Manifest struct {
	RunID   string    `json:"runID"`
	Name    string    `json:"name,omitempty"`
	Created time.Time `json:"created"`
	Keys    []string  `json:"keys"`
}

// New captures the work list's keys.
func New[P any](runID, name string, items tilerun.WorkList[P]) Manifest {
	return Manifest{
		RunID:   runID,
		Name:    name,
		Created: time.Now().UTC(),
		Keys:    items.Keys(),
	}
}

// SameKeys reports whether two manifests cover the same set of keys,
// regardless of order. Determinism of enumeration only guarantees set
// equality across releases that reorder dispatch hints.
func (m Manifest) SameKeys(o Manifest) bool {
	if len(m.Keys) != len(o.Keys) {
		return false
	}
	seen := make(map[string]int, len(m.Keys))
	for _, k := range m.Keys {
		seen[k]++
	}
	for _, k := range o.Keys {
		if seen[k] == 0 {
			return false
		}
		seen[k]--
	}
	return true
}

// Encode renders the manifest as JSON.
func Encode(m Manifest) ([]byte, error) {
	data, err := json.Marshal(m)
	return data, errors.Wrap(err, "manifest: encoding")
}

// Decode parses a stored manifest.
func Decode(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, errors.Wrap(err, "manifest: decoding")
	}
	return m, nil
}

// reportRecord is the serialized form of a tilerun.Report; errors become
// strings.
type reportRecord struct {
	RunID      string          `json:"runID"`
	Name       string          `json:"name,omitempty"`
	Started    time.Time       `json:"started"`
	Finished   time.Time       `json:"finished"`
	Total      int             `json:"total"`
	Done       int             `json:"done"`
	Skipped    int             `json:"skipped"`
	Failed     int             `json:"failed"`
	Pending    int             `json:"pending"`
	FailedKeys []string        `json:"failedKeys,omitempty"`
	Outcomes   []outcomeRecord `json:"outcomes"`
}

type outcomeRecord struct {
	Key      string `json:"key"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// EncodeReport renders a run report as JSON for auditing and resubmission
// tooling.
func EncodeReport(r *tilerun.Report) ([]byte, error) {
	rec := reportRecord{
		RunID:      r.RunID,
		Name:       r.Name,
		Started:    r.Started,
		Finished:   r.Finished,
		Total:      r.Total,
		Done:       r.Done,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		Pending:    r.Pending,
		FailedKeys: r.FailedKeys,
		Outcomes:   make([]outcomeRecord, 0, len(r.Outcomes)),
	}
	for _, o := range r.Outcomes {
		or := outcomeRecord{Key: o.Key, Status: string(o.Status), Attempts: o.Attempts}
		if o.Err != nil {
			or.Error = o.Err.Error()
		}
		rec.Outcomes = append(rec.Outcomes, or)
	}
	data, err := json.Marshal(rec)
	return data, errors.Wrap(err, "manifest: encoding report")
}
