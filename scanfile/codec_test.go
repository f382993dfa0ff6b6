// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scanfile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtrace/ptrscan/addrspace"
	"github.com/memtrace/ptrscan/pointermap"
	"github.com/memtrace/ptrscan/proc"
)

func buildFixtureGraph() *pointermap.Graph {
	b := pointermap.NewBuilderFromModules([]proc.Module{
		{
			Interval: addrspace.Interval{Start: 0x1000, End: 0x1100},
			Name:     "game",
		},
	})
	// Deliberately out of ascending-key order: Finish must re-sort.
	b.AddEdge(0x2008, 0x1000)
	b.AddEdge(0x1000, 0x2008)
	return b.Finish()
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	g := buildFixtureGraph()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g))

	got, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, g.ForwardLen(), got.ForwardLen())
	assert.Equal(t, g.Points(), got.Points())
	assert.Equal(t, g.Dense(), got.Dense())

	v, ok := got.Forward(0x1000)
	require.True(t, ok)
	assert.Equal(t, addrspace.Address(0x2008), v)

	v, ok = got.Forward(0x2008)
	require.True(t, ok)
	assert.Equal(t, addrspace.Address(0x1000), v)

	iv, name, ok := got.Modules().GetContaining(0x1050)
	require.True(t, ok)
	assert.Equal(t, "game", name)
	assert.Equal(t, addrspace.Interval{Start: 0x1000, End: 0x1100}, iv)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := make([]byte, headerSize)
	copy(buf, "XXXX")
	_, err := Decode(bytes.NewReader(buf))
	require.Error(t, err)
	var corrupt *CorruptFile
	assert.ErrorAs(t, err, &corrupt)
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("@PTR")))
	require.Error(t, err)
	var corrupt *CorruptFile
	assert.ErrorAs(t, err, &corrupt)
}

func TestDecodeRejectsUnknownArch(t *testing.T) {
	var buf bytes.Buffer
	g := pointermap.NewBuilderFromModules(nil).Finish()
	require.NoError(t, Encode(&buf, g))
	raw := buf.Bytes()
	raw[4] = 0xff // corrupt the arch code word
	_, err := Decode(bytes.NewReader(raw))
	require.Error(t, err)
	var corrupt *CorruptFile
	assert.ErrorAs(t, err, &corrupt)
}
