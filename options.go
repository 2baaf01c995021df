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

import (
	"log/slog"

	"lostluck.dev/tilerun/internal/runopts"
)

// Options configure Run with specific features. Each function takes a
// variadic list of options, where properties set in later options override
// the value of previously set properties.
type Options = runopts.Options

// Provisioner acquires a per work item compute handle (a sub-cluster, a
// session, a lease) before the worker body runs, and releases it on every
// exit path, success or failure. See the lease package for a store backed
// implementation.
type Provisioner = runopts.Provisioner

// Name sets the name of the run, typically to make reports and log lines
// easier to refer to.
func Name(name string) Options {
	return &runopts.Struct{
		Name: name,
	}
}

// WithLogger routes run progress and outcome records to the given logger
// instead of the one carried by the context.
func WithLogger(l *slog.Logger) Options {
	return &runopts.Struct{
		Logger: l,
	}
}

// WithProvisioner wraps every worker body invocation in an acquire/release
// pair against the given provisioner.
func WithProvisioner(p Provisioner) Options {
	return &runopts.Struct{
		Provisioner: p,
	}
}
