// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pointermap

import (
	"encoding/binary"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtrace/ptrscan/addrspace"
	"github.com/memtrace/ptrscan/proc"
)

// fakeProcess is a byte-addressable in-memory process used to exercise
// Build without a real pid or core file.
type fakeProcess struct {
	mem    map[uint64][]byte // region start -> contents
	ends   map[uint64]uint64 // region start -> end
	regions []proc.Region
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{mem: map[uint64][]byte{}, ends: map[uint64]uint64{}}
}

func (f *fakeProcess) addRegion(start uint64, words []uint64, path, tag string) {
	buf := make([]byte, len(words)*8)
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	end := start + uint64(len(buf))
	f.mem[start] = buf
	f.ends[start] = end
	f.regions = append(f.regions, proc.Region{Start: start, End: end, Readable: true, Path: path, Tag: tag})
}

func (f *fakeProcess) AppPath() string { return "" }

func (f *fakeProcess) Regions() iter.Seq[proc.Region] {
	return func(yield func(proc.Region) bool) {
		for _, r := range f.regions {
			if !yield(r) {
				return
			}
		}
	}
}

func (f *fakeProcess) Read(addr uint64, buf []byte) (int, error) {
	for start, data := range f.mem {
		end := f.ends[start]
		if addr < start || addr >= end {
			continue
		}
		off := addr - start
		n := copy(buf, data[off:])
		return n, nil
	}
	return 0, &proc.ReadFailed{Addr: addr, Want: len(buf)}
}

func (f *fakeProcess) ReadExact(addr uint64, buf []byte) error {
	n, err := f.Read(addr, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return &proc.ReadFailed{Addr: addr, Want: len(buf), Got: n}
	}
	return nil
}

func (f *fakeProcess) Close() error { return nil }

func TestBuildRetainsOnlyEdgesLandingInScanSet(t *testing.T) {
	p := newFakeProcess()
	// Module region [0x1000, 0x1010): two pointer-shaped words, one
	// pointing into the heap region below, one pointing nowhere scanned.
	p.addRegion(0x1000, []uint64{0x2008, 0xdeadbeef}, "/opt/app/game", "")
	// Heap region [0x2000, 0x2020): a word pointing back at the module.
	p.addRegion(0x2000, []uint64{0, 0x1000, 0, 0}, "", "heap")

	classified := proc.ClassifyRegions(p.regions)

	g, err := Build(p, classified, Options{})
	require.NoError(t, err)

	v, ok := g.Forward(0x1000)
	require.True(t, ok)
	assert.Equal(t, addrspace.Address(0x2008), v)

	// 0x1000+8 = 0x1008 held 0xdeadbeef, which points nowhere scanned.
	_, ok = g.Forward(0x1008)
	assert.False(t, ok)

	v, ok = g.Forward(0x2008)
	require.True(t, ok)
	assert.Equal(t, addrspace.Address(0x1000), v)

	assert.Equal(t, []addrspace.Address{0x1000}, g.Reverse(0x2008))
	assert.Equal(t, []addrspace.Address{0x2008}, g.Reverse(0x1000))

	// 0x1000 lies inside the module interval, so it's a static point.
	assert.Equal(t, []addrspace.Address{0x1000}, g.Points())
}
