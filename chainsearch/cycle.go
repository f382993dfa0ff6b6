// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chainsearch

import "github.com/memtrace/ptrscan/addrspace"

// chainStep is one hop recorded on the DFS stack: (anchor_address,
// offset_from_child) in the data model's terms (spec §3, "Chain"). Anchor
// is the predecessor key k; Offset is addr-k, the signed displacement from
// this hop's child address down to k.
type chainStep struct {
	Anchor addrspace.Address
	Offset addrspace.Offset
}

// rewriteCycles implements the "largest tail" cycle rewrite (spec §4.E,
// "Cycle rewrite"; the Open Question on first-vs-last recurrence is decided
// in favor of last, per the spec's explicit mandate). chain is in push
// order: index 0 is the hop closest to the target (pushed first), the last
// index is the hop closest to the resolved anchor (pushed last, "outer to
// inner" in the spec's own phrasing runs the other way).
//
// If chain[0].Anchor recurs later in the chain, the rewrite keeps chain[0]
// and drops everything up to and including the LAST such recurrence,
// keeping only what follows it. Applying the rewrite to its own output is a
// no-op: the new chain's later elements are exactly the tail after the last
// occurrence of chain[0].Anchor, so no further occurrence remains to match.
func rewriteCycles(chain []chainStep) []chainStep {
	if len(chain) == 0 {
		return chain
	}
	a1 := chain[0].Anchor
	lastMatch := -1
	for i := 1; i < len(chain); i++ {
		if chain[i].Anchor == a1 {
			lastMatch = i
		}
	}
	if lastMatch == -1 {
		return chain
	}
	out := make([]chainStep, 0, len(chain)-lastMatch)
	out = append(out, chain[0])
	out = append(out, chain[lastMatch+1:]...)
	return out
}
