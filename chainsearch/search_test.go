// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chainsearch

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtrace/ptrscan/addrspace"
	"github.com/memtrace/ptrscan/pointermap"
	"github.com/memtrace/ptrscan/proc"
	"github.com/memtrace/ptrscan/scanfile"
)

var gameModule = proc.Module{
	Interval: addrspace.Interval{Start: 0x1000, End: 0x2000},
	Name:     "game",
}

// fanOutGraph builds three independent exact (zero-drift) chains of length
// 1, 2 and 3 respectively, all converging on target 0x9000:
//
//	0x1010 -------------------------> 0x9000
//	0x1020 -> 0x9100 ----------------> 0x9000
//	0x1030 -> 0x9200 -> 0x9300 ------> 0x9000
func fanOutGraph() *pointermap.Graph {
	b := pointermap.NewBuilderFromModules([]proc.Module{gameModule})
	b.AddEdge(0x1010, 0x9000)
	b.AddEdge(0x1020, 0x9100)
	b.AddEdge(0x9100, 0x9000)
	b.AddEdge(0x1030, 0x9200)
	b.AddEdge(0x9200, 0x9300)
	b.AddEdge(0x9300, 0x9000)
	return b.Finish()
}

func exactParams(depth int) Params {
	return Params{Depth: depth, SRange: Window{Lower: 0, Upper: 0}}
}

func TestFanOutEmitsOneChainPerAnchorInDFSOrder(t *testing.T) {
	g := fanOutGraph()
	results, err := Collect(g, 0x9000, exactParams(5))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, addrspace.Offset(0x10), results[0].Base)
	assert.Equal(t, []addrspace.Offset{0}, results[0].Offsets)

	assert.Equal(t, addrspace.Offset(0x20), results[1].Base)
	assert.Equal(t, []addrspace.Offset{0, 0}, results[1].Offsets)

	assert.Equal(t, addrspace.Offset(0x30), results[2].Base)
	assert.Equal(t, []addrspace.Offset{0, 0, 0}, results[2].Offsets)

	for _, r := range results {
		assert.Equal(t, "game", r.Module)
	}
}

func TestNodeFilterDropsShortChainsWithoutPruningTraversal(t *testing.T) {
	g := fanOutGraph()
	node := 2
	params := exactParams(5)
	params.Node = &node

	results, err := Collect(g, 0x9000, params)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.GreaterOrEqual(t, len(r.Offsets), 2)
	}
}

func TestDepthBoundBlocksLongerChains(t *testing.T) {
	g := fanOutGraph()
	results, err := Collect(g, 0x9000, exactParams(2))
	require.NoError(t, err)
	// Only the length-1 and length-2 chains fit within depth 2; the
	// length-3 chain's anchor is never reached.
	require.Len(t, results, 2)
	for _, r := range results {
		assert.LessOrEqual(t, len(r.Offsets), 2)
	}
}

func TestMaxCapsEmittedChainsWithoutError(t *testing.T) {
	g := fanOutGraph()
	max := 2
	params := exactParams(5)
	params.Max = &max

	results, err := Collect(g, 0x9000, params)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestLastPinsFinalOffset(t *testing.T) {
	b := pointermap.NewBuilderFromModules([]proc.Module{gameModule})
	b.AddEdge(0x1010, 0x9000) // target-adjacent offset 0
	b.AddEdge(0x1020, 0x9008) // target-adjacent offset -8
	g := b.Finish()

	params := Params{Depth: 3, SRange: Window{Lower: 8, Upper: 0}}
	last := int64(0)
	params.Last = &last

	results, err := Collect(g, 0x9000, params)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, addrspace.Offset(0x10), results[0].Base)
	assert.Equal(t, []addrspace.Offset{0}, results[0].Offsets)
}

func TestLRangeOverridesOnlyTheFirstHop(t *testing.T) {
	b := pointermap.NewBuilderFromModules([]proc.Module{gameModule})
	b.AddEdge(0x1100, 0x8FF8)   // anchor -> intermediate, zero drift (offset 0)
	b.AddEdge(0x8FF8, 0x100000) // intermediate -> value 900 bytes below target
	g := b.Finish()

	const target = addrspace.Address(0x100384) // 0x100000 + 900

	narrow := Params{Depth: 2, SRange: Window{Lower: 0, Upper: 16}}
	results, err := Collect(g, target, narrow)
	require.NoError(t, err)
	assert.Empty(t, results, "900-byte drift at the first hop exceeds srange and lrange was not set")

	wide := narrow
	wide.LRange = &Window{Lower: 0, Upper: 1024}
	results, err = Collect(g, target, wide)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []addrspace.Offset{0, 900}, results[0].Offsets)
}

func TestFilterCyclesCollapsesRepeatedAnchor(t *testing.T) {
	chain := []chainStep{
		{Anchor: 0xA, Offset: 1},
		{Anchor: 0xB, Offset: 2},
		{Anchor: 0xC, Offset: 3},
		{Anchor: 0xA, Offset: 4},
		{Anchor: 0xD, Offset: 5},
	}
	rewritten := rewriteCycles(chain)
	assert.Equal(t, []chainStep{
		{Anchor: 0xA, Offset: 1},
		{Anchor: 0xD, Offset: 5},
	}, rewritten)
}

func TestFilterCyclesIsIdempotent(t *testing.T) {
	chain := []chainStep{
		{Anchor: 0xA, Offset: 1},
		{Anchor: 0xB, Offset: 2},
		{Anchor: 0xA, Offset: 3},
	}
	once := rewriteCycles(chain)
	twice := rewriteCycles(once)
	assert.Equal(t, once, twice)
}

func TestFilterCyclesNoRecurrenceIsNoop(t *testing.T) {
	chain := []chainStep{
		{Anchor: 0xA, Offset: 1},
		{Anchor: 0xB, Offset: 2},
	}
	assert.Equal(t, chain, rewriteCycles(chain))
}

func TestInvalidParamRejectsNodeAboveDepth(t *testing.T) {
	node := 10
	params := Params{Depth: 5, Node: &node}
	_, err := Collect(fanOutGraph(), 0x9000, params)
	var invalid *InvalidParam
	assert.ErrorAs(t, err, &invalid)
}

func TestInvalidParamRejectsLastOutsideWindow(t *testing.T) {
	last := int64(100)
	params := Params{Depth: 5, SRange: Window{Lower: 4, Upper: 4}, Last: &last}
	_, err := Collect(fanOutGraph(), 0x9000, params)
	var invalid *InvalidParam
	assert.ErrorAs(t, err, &invalid)
}

func TestInvalidParamRejectsNonPositiveDepth(t *testing.T) {
	params := Params{Depth: 0}
	_, err := Collect(fanOutGraph(), 0x9000, params)
	var invalid *InvalidParam
	assert.ErrorAs(t, err, &invalid)
}

func TestNoStaticAnchorWhenGraphHasNoPoints(t *testing.T) {
	b := pointermap.NewBuilderFromModules(nil)
	b.AddEdge(0x9100, 0x9000)
	g := b.Finish()

	_, err := Collect(g, 0x9000, exactParams(3))
	var noAnchor *NoStaticAnchor
	assert.ErrorAs(t, err, &noAnchor)
}

func TestSearchWritesOneLinePerChain(t *testing.T) {
	var buf bytes.Buffer
	err := Search(fanOutGraph(), 0x9000, exactParams(5), &buf)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	assert.Len(t, lines, 3)
	assert.Equal(t, "game+10.0", string(lines[0]))
	assert.Equal(t, "game+20.0.0", string(lines[1]))
	assert.Equal(t, "game+30.0.0.0", string(lines[2]))
}

func TestSearchAfterFileRoundTripMatchesInMemoryGraph(t *testing.T) {
	g := fanOutGraph()

	var buf bytes.Buffer
	require.NoError(t, scanfile.Encode(&buf, g))
	loaded, err := scanfile.Decode(&buf)
	require.NoError(t, err)

	params := exactParams(5)
	want, err := Collect(g, 0x9000, params)
	require.NoError(t, err)
	got, err := Collect(loaded, 0x9000, params)
	require.NoError(t, err)

	assert.Equal(t, want, got)
}
