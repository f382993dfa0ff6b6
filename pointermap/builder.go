// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pointermap

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/memtrace/ptrscan/addrspace"
	"github.com/memtrace/ptrscan/proc"
	"github.com/memtrace/ptrscan/rangeindex"
)

// wordSize is the width of a scanned machine word. The system targets
// 64-bit little-endian hosts only (spec §1); any process word size is the
// host word size.
const wordSize = 8

// Options configures a pointer-map build (spec §4.C, step 2-3).
type Options struct {
	// ChunkSize is the scan buffer size in bytes. Zero selects a
	// platform-tuned default: 16 KiB on arm64 (matching Apple/ARM64
	// hosts), 1 MiB elsewhere on Linux-like hosts, 4 KiB otherwise
	// (matching small-page Windows/x86-64 VMs).
	ChunkSize int
	// Unaligned scans every byte offset instead of only 8-byte-aligned
	// word offsets. Slower; used when the target is known to store
	// pointers at unaligned offsets (packed structs).
	Unaligned bool
}

func defaultChunkSize() int {
	switch {
	case runtime.GOARCH == "arm64":
		return 16 * 1024
	case runtime.GOOS == "linux":
		return 1 << 20
	default:
		return 4 * 1024
	}
}

// Build scans p over the regions named by classified, retaining every
// machine word whose value falls inside the scan set S, and returns the
// resulting pointer graph (spec §4.C).
//
// Build never returns a *proc.ReadFailed: per spec §7, a read failure on
// one region is swallowed as a warning (see Graph.Warnings) and that
// region's scan is abandoned, not the whole build. It returns an error
// only when a classified region has an inverted interval (start after end).
func Build(p proc.Process, classified proc.Classified, opts Options) (*Graph, error) {
	g := NewGraph()

	scanSet, err := scanSetOf(classified)
	if err != nil {
		return nil, err
	}
	for _, m := range classified.Modules {
		g.modules.Insert(m.Interval, m.Name)
	}

	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize()
	}
	step := wordSize
	if opts.Unaligned {
		step = 1
	}

	scan := func(start, end addrspace.Address) {
		buf := make([]byte, chunk)
		for off := start; off < end; off += addrspace.Address(chunk) {
			n := int(end - off)
			if n > chunk {
				n = chunk
			}
			read := buf[:n]
			got, rerr := p.Read(uint64(off), read)
			if rerr != nil && got == 0 {
				g.addWarning(fmt.Sprintf("abandoned region [%x,%x): %v", start, end, rerr))
				slog.Warn("abandoned region during scan", "start", start, "end", end, "err", rerr)
				return
			}
			read = read[:got]
			for k := 0; k+wordSize <= len(read); k += step {
				v := addrspace.Address(binary.LittleEndian.Uint64(read[k : k+8]))
				if scanSet.Contains(v) {
					g.addEdge(off+addrspace.Address(k), v)
				}
			}
		}
	}

	for _, m := range classified.Modules {
		scan(m.Interval.Start, m.Interval.End)
	}
	for _, a := range classified.Anon {
		scan(addrspace.Address(a.Start), addrspace.Address(a.End))
	}

	// Regions are scanned module-block-then-anon-block, each block in
	// ascending address order, but module addresses and anonymous
	// addresses are not necessarily interleaved in address order overall
	// (e.g. a module mapped high in the address space, a heap mapped
	// low). Re-sort before deriving P so F and V expose true ascending
	// key order, not scan order.
	sortForwardKeys(g)

	g.finalize(func(a addrspace.Address) bool {
		_, _, ok := g.modules.GetContaining(a)
		return ok
	})

	return g, nil
}

// scanSetOf builds S, the RangeSet union of every kept module and
// anonymous region (spec §4.C step 1). Correctness requires this to be
// exactly the set the chain searcher treats as the valid graph boundary
// later (spec §4.C, "Correctness").
func scanSetOf(classified proc.Classified) (*rangeindex.RangeSet, error) {
	var s rangeindex.RangeSet
	for _, m := range classified.Modules {
		if m.Interval.Start > m.Interval.End {
			return nil, fmt.Errorf("pointermap: module %q has inverted interval", m.Name)
		}
		s.Insert(m.Interval)
	}
	for _, a := range classified.Anon {
		if a.Start > a.End {
			return nil, fmt.Errorf("pointermap: anonymous region has inverted interval [%x,%x)", a.Start, a.End)
		}
		s.Insert(addrspace.Interval{Start: addrspace.Address(a.Start), End: addrspace.Address(a.End)})
	}
	return &s, nil
}
