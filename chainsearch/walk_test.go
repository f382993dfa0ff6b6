// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chainsearch

import (
	"encoding/binary"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtrace/ptrscan/addrspace"
	"github.com/memtrace/ptrscan/proc"
)

func TestParseChainRoundTripsWithString(t *testing.T) {
	r := Result{Module: "game", Base: 0x30, Offsets: []addrspace.Offset{0, -8, 0x10}}
	parsed, err := ParseChain(r.String())
	require.NoError(t, err)
	assert.Equal(t, r, parsed)
}

func TestParseChainRejectsMissingPlus(t *testing.T) {
	_, err := ParseChain("game10.0")
	assert.Error(t, err)
}

// fakeWalkProcess is a tiny byte-addressable process for Walk tests.
type fakeWalkProcess struct {
	mem map[uint64]uint64
}

func (f fakeWalkProcess) AppPath() string { return "" }
func (f fakeWalkProcess) Close() error    { return nil }

func (f fakeWalkProcess) Regions() iter.Seq[proc.Region] {
	return func(yield func(proc.Region) bool) {}
}

func (f fakeWalkProcess) Read(addr uint64, buf []byte) (int, error) {
	v, ok := f.mem[addr]
	if !ok {
		return 0, &proc.ReadFailed{Addr: addr, Want: len(buf)}
	}
	binary.LittleEndian.PutUint64(buf, v)
	return len(buf), nil
}

func (f fakeWalkProcess) ReadExact(addr uint64, buf []byte) error {
	n, err := f.Read(addr, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return &proc.ReadFailed{Addr: addr, Want: len(buf), Got: n}
	}
	return nil
}

func TestWalkFollowsEveryOffsetButTheLast(t *testing.T) {
	p := fakeWalkProcess{mem: map[uint64]uint64{
		0x1010: 0x9000, // module+0x10 holds a pointer to 0x9000
		0x9000: 0x7000, // 0x9000 (module pointer + offset 0) holds a pointer to 0x7000
		0x7008: 0x5000, // 0x7008 (0x7000 + offset 8) holds a pointer to 0x5000
	}}
	mods := []proc.Module{{Interval: addrspace.Interval{Start: 0x1000, End: 0x2000}, Name: "game"}}

	r := Result{Module: "game", Base: 0x10, Offsets: []addrspace.Offset{0, 8, 4}}
	terminal, steps, err := Walk(p, mods, r)
	require.NoError(t, err)
	assert.Equal(t, addrspace.Address(0x5004), terminal)
	require.Len(t, steps, 3)
	assert.Equal(t, addrspace.Address(0x1010), steps[0].Addr)
	assert.Equal(t, addrspace.Address(0x9000), steps[1].Addr)
	assert.Equal(t, addrspace.Address(0x7008), steps[2].Addr)
}

func TestWalkReportsTheFailingHop(t *testing.T) {
	p := fakeWalkProcess{mem: map[uint64]uint64{0x1010: 0x9000}}
	mods := []proc.Module{{Interval: addrspace.Interval{Start: 0x1000, End: 0x2000}, Name: "game"}}

	r := Result{Module: "game", Base: 0x10, Offsets: []addrspace.Offset{0, 8, 4}}
	_, steps, err := Walk(p, mods, r)
	require.Error(t, err)
	assert.Len(t, steps, 2)
}

func TestWalkRejectsUnknownModule(t *testing.T) {
	_, _, err := Walk(fakeWalkProcess{}, nil, Result{Module: "missing"})
	assert.Error(t, err)
}
