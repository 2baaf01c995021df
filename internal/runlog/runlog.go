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

// Package runlog is a slog handler that writes one JSON object per record,
// the machine readable audit stream a run emits one line of per work item
// outcome.
package runlog

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/jba/slog/withsupport"
)

// Options configures a Handler.
type Options struct {
	// Level is the minimum record level to emit. Defaults to slog.LevelInfo.
	Level slog.Leveler
}

// Handler emits newline delimited JSON. It is safe for concurrent use.
type Handler struct {
	opts Options
	goa  *withsupport.GroupOrAttrs

	mu *sync.Mutex
	w  io.Writer
}

// NewHandler writes records to w.
func NewHandler(w io.Writer, opts *Options) *Handler {
	h := &Handler{w: w, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.Level == nil {
		h.opts.Level = slog.LevelInfo
	}
	return h
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.goa = h.goa.WithGroup(name)
	return &h2
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.goa = h.goa.WithAttrs(attrs)
	return &h2
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	m := map[string]any{}
	if !r.Time.IsZero() {
		m[slog.TimeKey] = r.Time
	}
	m[slog.LevelKey] = r.Level.String()
	m[slog.MessageKey] = r.Message

	groups := h.goa.Apply(func(gs []string, a slog.Attr) {
		appendAttr(m, gs, a)
	})
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(m, groups, a)
		return true
	})

	buf, err := json.Marshal(m)
	if err != nil {
		return err
	}
	buf = append(buf, '\n')
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(buf)
	return err
}

// appendAttr places a resolved attr into the nested map for its group path.
// Empty attrs are dropped, groups materialize lazily so empty groups never
// appear in the output.
func appendAttr(m map[string]any, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	for _, g := range groups {
		sub, ok := m[g].(map[string]any)
		if !ok {
			sub = map[string]any{}
			m[g] = sub
		}
		m = sub
	}
	if a.Value.Kind() == slog.KindGroup {
		gas := a.Value.Group()
		if len(gas) == 0 {
			return
		}
		// An inline group's attrs live at the current level.
		path := []string{}
		if a.Key != "" {
			path = []string{a.Key}
		}
		for _, ga := range gas {
			appendAttr(m, path, ga)
		}
		return
	}
	switch a.Value.Kind() {
	case slog.KindString:
		m[a.Key] = a.Value.String()
	case slog.KindDuration:
		m[a.Key] = a.Value.Duration().String()
	default:
		v := a.Value.Any()
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		m[a.Key] = v
	}
}

var _ slog.Handler = (*Handler)(nil)
