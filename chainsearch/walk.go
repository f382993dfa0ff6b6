// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chainsearch

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/memtrace/ptrscan/addrspace"
	"github.com/memtrace/ptrscan/proc"
)

// ParseChain parses the canonical scan-result text format (spec §6,
// "Scan result text format") back into a Result. The module name is
// everything before the first '+' and only the rest is split on '.', so
// names containing '.' or a "[i]" suffix (e.g. "libfoo.so[1]") parse
// correctly; a name that itself contains '+' does not.
func ParseChain(s string) (Result, error) {
	plus := strings.IndexByte(s, '+')
	if plus < 0 {
		return Result{}, fmt.Errorf("chainsearch: malformed chain %q: missing '+'", s)
	}
	parts := strings.Split(s[plus+1:], ".")
	base, err := parseHexOffset(parts[0])
	if err != nil {
		return Result{}, fmt.Errorf("chainsearch: malformed base in %q: %w", s, err)
	}
	offsets := make([]addrspace.Offset, 0, len(parts)-1)
	for _, p := range parts[1:] {
		o, err := parseHexOffset(p)
		if err != nil {
			return Result{}, fmt.Errorf("chainsearch: malformed offset in %q: %w", s, err)
		}
		offsets = append(offsets, o)
	}
	return Result{Module: s[:plus], Base: base, Offsets: offsets}, nil
}

func parseHexOffset(s string) (addrspace.Offset, error) {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	u, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, err
	}
	if neg {
		return addrspace.Offset(-int64(u)), nil
	}
	return addrspace.Offset(int64(u)), nil
}

// WalkStep is one hop of a live-process chain walk: the address visited
// and the offset about to be applied from it.
type WalkStep struct {
	Addr   addrspace.Address
	Offset addrspace.Offset
}

// Walk resolves r against the live module table mods and dereferences
// through p itself, not a previously captured pointer map — the live
// process may have moved since that map was built (spec's supplemented
// feature #3, "test subcommand semantics"). The walk starts at the
// module's start plus r.Base; for every offset it reads the pointer stored
// at the current address and adds the offset to it, matching how Search
// builds chains (each hop is a dereference followed by a signed offset).
// The address produced by the last offset is not read again: it is the
// terminal address, the one that lands on the original scan target.
//
// On a failed dereference, Walk returns the address that failed to read
// and the steps completed so far, alongside the wrapped *proc.ReadFailed,
// so a caller can tell a stale chain (this hop used to be a pointer, now
// isn't) from one that references a module never present in mods.
func Walk(p proc.Process, mods []proc.Module, r Result) (addrspace.Address, []WalkStep, error) {
	var base addrspace.Address
	found := false
	for _, m := range mods {
		if m.Name == r.Module {
			base, found = m.Interval.Start, true
			break
		}
	}
	if !found {
		return 0, nil, fmt.Errorf("chainsearch: module %q not present in the live module table", r.Module)
	}

	addr := base.Add(r.Base)
	steps := make([]WalkStep, 0, len(r.Offsets))
	for i, off := range r.Offsets {
		steps = append(steps, WalkStep{Addr: addr, Offset: off})
		var buf [8]byte
		if err := p.ReadExact(uint64(addr), buf[:]); err != nil {
			return addr, steps, fmt.Errorf("chainsearch: walk failed at hop %d (address %s): %w", i, addr, err)
		}
		addr = addrspace.Address(binary.LittleEndian.Uint64(buf[:])).Add(off)
	}
	return addr, steps, nil
}
