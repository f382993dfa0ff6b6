// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pointermap materializes the bidirectional pointer graph over a
// classified region partition (spec §4.C, "Pointer-map builder"). It is
// grounded on golang.org/x/debug/internal/gocore's reverse-edge machinery
// (reverse.go's ForEachReversePtr) for the shape of the forward/reverse
// relationship, generalized from "pointers between Go heap objects" to
// "pointers between any scanned machine words."
package pointermap

import (
	"slices"

	"github.com/memtrace/ptrscan/addrspace"
	"github.com/memtrace/ptrscan/rangeindex"
)

// denseBucketThreshold and denseRatio implement the scan-density mode from
// spec §4.C: buckets (V[v] slices) with fewer than denseBucketThreshold
// entries count as sparse; the graph is marked dense unless sparse buckets
// outnumber dense ones by more than denseRatio to one.
const (
	denseBucketThreshold = 64
	denseRatio           = 512
)

// Graph is the immutable pointer graph produced by Build or loaded by
// scanfile.Decode: the forward map F, the reverse map V, the module table
// M and the derived static-point horizon P (spec §3).
type Graph struct {
	forward map[addrspace.Address]addrspace.Address
	fwdKeys []addrspace.Address // sorted ascending; F's ordered key set

	reverse map[addrspace.Address][]addrspace.Address // each slice ascending by source key
	revKeys []addrspace.Address                        // sorted ascending; V's ordered key set

	modules rangeindex.RangeMap[string]

	points []addrspace.Address // P, sorted ascending

	dense bool

	warnings []string
}

// NewGraph returns an empty graph ready to be populated by a builder. Most
// callers should use Build instead of constructing a Graph directly.
func NewGraph() *Graph {
	return &Graph{
		forward: make(map[addrspace.Address]addrspace.Address),
		reverse: make(map[addrspace.Address][]addrspace.Address),
	}
}

// addEdge records k -> v, appending to fwdKeys and to the V[v] bucket in
// arrival order. Edges may arrive in any k order: Build and Builder.Finish
// both call sortForwardKeys before finalize, and finalize sorts revKeys.
func (g *Graph) addEdge(k, v addrspace.Address) {
	g.forward[k] = v
	g.fwdKeys = append(g.fwdKeys, k)
	if _, ok := g.reverse[v]; !ok {
		g.revKeys = append(g.revKeys, v)
	}
	g.reverse[v] = append(g.reverse[v], k)
}

// sortForwardKeys re-sorts fwdKeys and every reverse bucket by ascending
// source key. Build needs this because it scans all module regions before
// all anonymous regions, which is not overall address order; a loader
// reconstructing a graph from an on-disk stream needs it too, since
// nothing guarantees the stream was written in key order.
func sortForwardKeys(g *Graph) {
	slices.Sort(g.fwdKeys)
	for v := range g.reverse {
		slices.Sort(g.reverse[v])
	}
}

// finalize derives P and the density bit from the completed edge set and
// sorts revKeys. Must be called exactly once after all edges are added,
// and before Build hands the graph to a caller.
func (g *Graph) finalize(isModuleAddr func(addrspace.Address) bool) {
	slices.Sort(g.revKeys)

	g.points = g.points[:0]
	for _, k := range g.fwdKeys {
		if isModuleAddr(k) {
			g.points = append(g.points, k)
		}
	}
	slices.Sort(g.points)

	var sparse, dense int
	for _, v := range g.revKeys {
		if len(g.reverse[v]) < denseBucketThreshold {
			sparse++
		} else {
			dense++
		}
	}
	g.dense = dense*denseRatio >= sparse
}

// Forward returns F(k) and whether k is a key of F.
func (g *Graph) Forward(k addrspace.Address) (addrspace.Address, bool) {
	v, ok := g.forward[k]
	return v, ok
}

// Reverse returns V(v): the ascending-by-source-key list of addresses
// whose forward edge points to v.
func (g *Graph) Reverse(v addrspace.Address) []addrspace.Address {
	return g.reverse[v]
}

// ForwardLen returns |F|.
func (g *Graph) ForwardLen() int { return len(g.fwdKeys) }

// ReverseBucketCount returns the number of distinct values in F's range,
// i.e. |dom(V)|.
func (g *Graph) ReverseBucketCount() int { return len(g.revKeys) }

// ReverseKeys returns dom(V) in ascending order: every address that has at
// least one predecessor in F. Callers that need a sub-range (the chain
// searcher's window query) should binary-search this slice rather than
// walking ForEachReverseBucket, which always visits every bucket.
func (g *Graph) ReverseKeys() []addrspace.Address { return g.revKeys }

// ForEachForward calls fn for every (k, F(k)) pair in ascending k order.
// It stops early if fn returns false.
func (g *Graph) ForEachForward(fn func(k, v addrspace.Address) bool) {
	for _, k := range g.fwdKeys {
		if !fn(k, g.forward[k]) {
			return
		}
	}
}

// ForEachReverseBucket calls fn for every (v, V(v)) pair in ascending v
// order. It stops early if fn returns false.
func (g *Graph) ForEachReverseBucket(fn func(v addrspace.Address, keys []addrspace.Address) bool) {
	for _, v := range g.revKeys {
		if !fn(v, g.reverse[v]) {
			return
		}
	}
}

// Points returns P, the sorted static-point horizon (spec §3).
func (g *Graph) Points() []addrspace.Address { return g.points }

// Modules returns the module table M.
func (g *Graph) Modules() *rangeindex.RangeMap[string] { return &g.modules }

// Dense reports the scan-density mode: true selects the binary-search
// strategy over P, false selects linear scan (spec §4.C, §4.E, §9).
func (g *Graph) Dense() bool { return g.dense }

// Warnings returns non-fatal diagnostics accumulated while building the
// graph (spec's supplemented feature #2), e.g. abandoned region reads.
func (g *Graph) Warnings() []string { return g.warnings }

func (g *Graph) addWarning(w string) { g.warnings = append(g.warnings, w) }
