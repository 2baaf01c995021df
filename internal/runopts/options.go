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

package runopts

import (
	"context"
	"log/slog"

	"lostluck.dev/tilerun/internal"
)

// Options is the common options type shared across tilerun packages.
type Options interface {
	// RunOptions is exported so related tilerun packages can implement Options.
	RunOptions(internal.NotForPublicUse)
}

// Provisioner acquires a per work item compute handle before the worker body
// runs. The returned release func must be called on every exit path.
type Provisioner interface {
	Acquire(ctx context.Context, key string) (release func() error, err error)
}

// Struct is the combination of all options in struct form.
// This is efficient to pass down the call stack and to query.
type Struct struct {
	Name        string       // The configured name of the run. Otherwise it's autogenerated.
	Logger      *slog.Logger // Overrides the context logger for run progress and outcomes.
	Provisioner Provisioner  // Acquires per-item compute handles when set.
}

func (dst *Struct) RunOptions(internal.NotForPublicUse) {}

func (dst *Struct) Join(srcs ...Options) {
	for _, src := range srcs {
		switch src := src.(type) {
		case *Struct:
			if src.Name != "" {
				dst.Name = src.Name
			}
			if src.Logger != nil {
				dst.Logger = src.Logger
			}
			if src.Provisioner != nil {
				dst.Provisioner = src.Provisioner
			}
		}
	}
}
