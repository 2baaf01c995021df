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

package tilerun

import "time"

// Status is the terminal disposition of a work item within a single run.
type Status string

const (
	// StatusDone means the worker body ran and succeeded.
	StatusDone Status = "done"
	// StatusSkipped means the guard found the output already present.
	StatusSkipped Status = "skipped"
	// StatusFailed means the body failed fatally or exhausted its retries.
	StatusFailed Status = "failed"
	// StatusPending means the item was never attempted, typically because
	// the run was cancelled first. A later run will pick it up.
	StatusPending Status = "pending"
)

// Outcome records the disposition of one work item.
type Outcome struct {
	Key      string
	Status   Status
	Attempts int   // worker body invocations, 0 for skipped or pending items
	Err      error // final error for failed items
}

// Report summarizes a run for observability and resubmission. FailedKeys
// and Outcomes follow work list order so reports are deterministic under
// concurrent completion.
type Report struct {
	RunID string
	Name  string

	Started  time.Time
	Finished time.Time

	Total   int
	Done    int
	Skipped int
	Failed  int
	Pending int

	FailedKeys []string
	Outcomes   []Outcome
}

// finalize orders outcomes by the original work list and tallies counts.
func (r *Report) finalize(keys []string, byKey map[string]Outcome) {
	r.Outcomes = make([]Outcome, 0, len(keys))
	for _, key := range keys {
		o, ok := byKey[key]
		if !ok {
			o = Outcome{Key: key, Status: StatusPending}
		}
		r.Outcomes = append(r.Outcomes, o)
		switch o.Status {
		case StatusDone:
			r.Done++
		case StatusSkipped:
			r.Skipped++
		case StatusFailed:
			r.Failed++
			r.FailedKeys = append(r.FailedKeys, o.Key)
		case StatusPending:
			r.Pending++
		}
	}
}
