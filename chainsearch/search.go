// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chainsearch

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/memtrace/ptrscan/addrspace"
	"github.com/memtrace/ptrscan/pointermap"
)

// Result is one accepted chain, already resolved to its module anchor
// (spec §3, "Chain"): Offsets is in render order, most-recently-pushed
// (closest to the resolved anchor) first, so String() can write it
// directly after the base offset.
type Result struct {
	Module  string
	Base    addrspace.Offset
	Offsets []addrspace.Offset
}

// String renders r in the canonical scan-result text format (spec §6):
// NAME+BASE.o1.o2.…on, BASE and every oi in hexadecimal, signed offsets
// carrying an explicit '-'.
func (r Result) String() string {
	var b strings.Builder
	b.WriteString(r.Module)
	b.WriteByte('+')
	b.WriteString(formatOffset(r.Base))
	for _, o := range r.Offsets {
		b.WriteByte('.')
		b.WriteString(formatOffset(o))
	}
	return b.String()
}

func formatOffset(o addrspace.Offset) string {
	if o < 0 {
		return fmt.Sprintf("-%x", uint64(-o))
	}
	return fmt.Sprintf("%x", uint64(o))
}

// EmitFunc receives each accepted chain in DFS order (spec §5,
// "Ordering"). Returning false stops the search early, the same as
// reaching the Max cap.
type EmitFunc func(Result) bool

// searcher holds the mutable state of one target's DFS: the chain stack
// being built and the running emitted count. It is never shared across
// goroutines; RunTargets gives each target its own searcher.
type searcher struct {
	graph  *pointermap.Graph
	params Params
	emit   EmitFunc

	chain   []chainStep
	emitted int
}

// SearchFunc runs the bounded backward DFS described in spec §4.E and
// invokes emit for every accepted chain. It returns InvalidParam if params
// fails validation, NoStaticAnchor if the graph has no module-region
// points to terminate on, and nil otherwise: an emit that stops the search
// does not produce an error here (Search records its own write errors and
// returns them as WriteFailed).
func SearchFunc(g *pointermap.Graph, target addrspace.Address, params Params, emit EmitFunc) error {
	if err := params.validate(); err != nil {
		return err
	}
	if len(g.Points()) == 0 {
		return &NoStaticAnchor{}
	}
	s := &searcher{graph: g, params: params, emit: emit}
	s.visit(target, params.Depth)
	return nil
}

// Collect runs SearchFunc and returns every accepted chain as a slice.
// Intended for tests and small interactive queries; Search is the
// streaming entry point for production use.
func Collect(g *pointermap.Graph, target addrspace.Address, params Params) ([]Result, error) {
	var out []Result
	err := SearchFunc(g, target, params, func(r Result) bool {
		out = append(out, r)
		return true
	})
	return out, err
}

// Search runs SearchFunc and writes every accepted chain to w, one per
// line, in the canonical text format. A write failure aborts the search
// and is returned as *WriteFailed (spec §7).
func Search(g *pointermap.Graph, target addrspace.Address, params Params, w io.Writer) error {
	bw := bufio.NewWriter(w)
	var writeErr error
	err := SearchFunc(g, target, params, func(r Result) bool {
		if _, werr := fmt.Fprintln(bw, r.String()); werr != nil {
			writeErr = &WriteFailed{Err: werr}
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}
	if err := bw.Flush(); err != nil {
		return &WriteFailed{Err: err}
	}
	return nil
}

// visit implements the pseudocode in spec §4.E. It returns false to signal
// that the caller should unwind the whole recursion (Max reached, or the
// caller's EmitFunc asked to stop); true means keep exploring siblings.
func (s *searcher) visit(addr addrspace.Address, depthLeft int) bool {
	window := s.params.SRange
	if depthLeft == s.params.Depth && s.params.LRange != nil {
		window = *s.params.LRange
	}
	low := addr.Add(addrspace.Offset(-saturateInt64(window.Upper)))
	high := addr.Add(addrspace.Offset(saturateInt64(window.Lower)))

	if s.probeStaticAnchor(low, high) {
		if !s.tryEmit(addr) {
			return false
		}
	}

	if depthLeft > 0 {
		for _, k := range s.reverseKeysInRange(low, high) {
			s.chain = append(s.chain, chainStep{Anchor: k, Offset: addr.Sub(k)})
			ok := true
			for _, pred := range s.graph.Reverse(k) {
				if !s.visit(pred, depthLeft-1) {
					ok = false
					break
				}
			}
			s.chain = s.chain[:len(s.chain)-1]
			if !ok {
				return false
			}
		}
	}
	return true
}

// probeStaticAnchor implements the "static-anchor probe" step: does any
// element of P fall in [low, high]? The lookup strategy is picked by the
// graph's measured density bit (spec §4.C, §4.E, §9): binary search when
// dense, linear scan from the low boundary when sparse. Both give the same
// answer; which is faster depends on |P|.
func (s *searcher) probeStaticAnchor(low, high addrspace.Address) bool {
	points := s.graph.Points()
	if s.graph.Dense() {
		i := sort.Search(len(points), func(i int) bool { return points[i] >= low })
		return i < len(points) && points[i] <= high
	}
	for _, p := range points {
		if p < low {
			continue
		}
		return p <= high
	}
	return false
}

// reverseKeysInRange returns the slice of V's domain keys lying in
// [low, high], in ascending order, via binary search over the graph's
// sorted reverse-key index.
func (s *searcher) reverseKeysInRange(low, high addrspace.Address) []addrspace.Address {
	keys := s.graph.ReverseKeys()
	i := sort.Search(len(keys), func(i int) bool { return keys[i] >= low })
	j := i
	for j < len(keys) && keys[j] <= high {
		j++
	}
	return keys[i:j]
}

// tryEmit resolves addr against the module table and, if it lands inside
// some module interval, runs the post-filters (node, last) and forwards
// the accepted chain to s.emit, applying the Max cap before and after. If addr
// only matched P within the probe window but isn't itself inside a
// module interval, the candidate is silently discarded (spec §4.E,
// "Emission contract"): P is an over-approximation of the anchor set.
func (s *searcher) tryEmit(addr addrspace.Address) bool {
	iv, name, ok := s.graph.Modules().GetContaining(addr)
	if !ok {
		return true
	}

	chain := s.chain
	if s.params.FilterCycles {
		chain = rewriteCycles(chain)
	}
	if s.params.Node != nil && len(chain) < *s.params.Node {
		return true
	}
	if s.params.Last != nil {
		var final addrspace.Offset
		if len(chain) > 0 {
			final = chain[0].Offset
		}
		if int64(final) != *s.params.Last {
			return true
		}
	}

	offsets := make([]addrspace.Offset, len(chain))
	for i, step := range chain {
		offsets[len(chain)-1-i] = step.Offset
	}
	res := Result{
		Module:  name,
		Base:    addr.Sub(iv.Start),
		Offsets: offsets,
	}

	if s.params.Max != nil && s.emitted >= *s.params.Max {
		return false
	}
	if !s.emit(res) {
		return false
	}
	s.emitted++
	if s.params.Max != nil && s.emitted >= *s.params.Max {
		return false
	}
	return true
}

// saturateInt64 clamps a non-negative uint64 window bound to the range an
// addrspace.Offset can carry without itself overflowing during Address.Add
// (which already saturates the resulting address; this just keeps the
// intermediate conversion honest for pathological window sizes).
func saturateInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(u)
}
