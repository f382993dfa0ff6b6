// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pointermap

import (
	"github.com/memtrace/ptrscan/addrspace"
	"github.com/memtrace/ptrscan/proc"
)

// Builder incrementally assembles a Graph from a module table and a
// stream of edges, independent of any particular process or encoding.
// scanfile.Decode uses it to rebuild the same pointer-map a live scan
// would have produced (spec §4.D, "Loader rebuilds...").
type Builder struct {
	g *Graph
}

// NewBuilderFromModules starts a Builder with the given module table
// already populated. Edges may then be added in any order convenient for
// the caller's source format; Finish sorts and derives P and the density
// bit regardless of the order AddEdge was called in.
func NewBuilderFromModules(mods []proc.Module) *Builder {
	g := NewGraph()
	for _, m := range mods {
		g.modules.Insert(m.Interval, m.Name)
	}
	return &Builder{g: g}
}

// AddEdge records k -> v. Unlike the live scanner, a loader cannot
// guarantee edges arrive in ascending k order (an on-disk stream could in
// principle have been written by a different implementation), so Finish
// re-sorts fwdKeys too.
func (b *Builder) AddEdge(k, v addrspace.Address) {
	b.g.addEdge(k, v)
}

// Finish derives P and the density bit and returns the completed graph.
func (b *Builder) Finish() *Graph {
	sortForwardKeys(b.g)
	b.g.finalize(func(a addrspace.Address) bool {
		_, _, ok := b.g.modules.GetContaining(a)
		return ok
	})
	return b.g
}
