// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package addrspace defines the primitive address, offset and permission
// types shared by every layer of the scanner: the process adapter, the
// pointer-map builder, the persistence codec and the chain searcher all
// operate on addrspace.Address rather than a bare uint64 so that arithmetic
// (signed offsets, saturating windows) happens in one place.
package addrspace

import "fmt"

// Address is an unsigned host-word virtual address. The system targets
// 64-bit hosts; Address is always 8 bytes wide regardless of GOARCH.
type Address uint64

// Offset is a signed host-word displacement applied to an Address.
type Offset int64

// Add returns a + o, saturating at the ends of the address space instead
// of wrapping. Wrapping here would let pointer arithmetic near the top or
// bottom of the address space produce false static-anchor matches (see
// DESIGN.md, "saturation in window math").
func (a Address) Add(o Offset) Address {
	if o >= 0 {
		u := uint64(o)
		if u > ^uint64(0)-uint64(a) {
			return Address(^uint64(0))
		}
		return a + Address(u)
	}
	u := uint64(-o)
	if u > uint64(a) {
		return 0
	}
	return a - Address(u)
}

// Sub returns a - b as a signed offset.
func (a Address) Sub(b Address) Offset {
	return Offset(int64(a) - int64(b))
}

// String renders the address as a bare hex string, no "0x" prefix, matching
// the scan-result text format (§6).
func (a Address) String() string {
	return fmt.Sprintf("%x", uint64(a))
}

// Perm is a bitmask of region permissions, mirroring core.Perm in the
// teacher's core/mapping.go.
type Perm uint8

const (
	Read Perm = 1 << iota
	Write
	Exec
)

func (p Perm) String() string {
	var b []byte
	if p&Read != 0 {
		b = append(b, 'r')
	} else {
		b = append(b, '-')
	}
	if p&Write != 0 {
		b = append(b, 'w')
	} else {
		b = append(b, '-')
	}
	if p&Exec != 0 {
		b = append(b, 'x')
	} else {
		b = append(b, '-')
	}
	return string(b)
}

// Interval is a half-open address range [Start, End). A zero-length
// interval (Start == End) is legal and contains no points.
type Interval struct {
	Start, End Address
}

// Len returns End - Start as an unsigned byte count.
func (iv Interval) Len() uint64 {
	if iv.End <= iv.Start {
		return 0
	}
	return uint64(iv.End - iv.Start)
}

// Contains reports whether a lies in [Start, End).
func (iv Interval) Contains(a Address) bool {
	return a >= iv.Start && a < iv.End
}

// Touches reports whether iv and other are overlapping or directly
// adjacent, i.e. they would coalesce into one interval in a RangeSet.
func (iv Interval) Touches(other Interval) bool {
	lo, hi := iv, other
	if hi.Start < lo.Start {
		lo, hi = hi, lo
	}
	return hi.Start <= lo.End
}

// Union returns the smallest interval covering both iv and other. Callers
// should only call this after confirming Touches, otherwise the result
// silently spans an untouched gap.
func (iv Interval) Union(other Interval) Interval {
	start := iv.Start
	if other.Start < start {
		start = other.Start
	}
	end := iv.End
	if other.End > end {
		end = other.End
	}
	return Interval{Start: start, End: end}
}
