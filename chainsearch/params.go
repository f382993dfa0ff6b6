// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package chainsearch implements the bounded backward DFS that turns a
// pointer graph and a target address into emitted pointer chains (spec
// §4.E). It is grounded on golang.org/x/debug/internal/gocore's reverse
// traversal style (ForEachReversePtr driving a caller callback) generalized
// from "walk referrers of a heap object" to "walk referrers within an
// offset window, bounded by depth, terminating at a static anchor."
package chainsearch

import "fmt"

// Window is a per-step offset window: from a current address addr, a
// predecessor key k is admitted when addr-Upper <= k <= addr+Lower (spec
// §4.E, "srange").
type Window struct {
	// Lower is how far above addr a predecessor key may lie (the "lr" in
	// srange/lrange).
	Lower uint64
	// Upper is how far below addr a predecessor key may lie (the "ur" in
	// srange/lrange).
	Upper uint64
}

// Params configures one chain search (spec §4.E).
type Params struct {
	// Depth is the maximum chain length, D.
	Depth int
	// SRange is the offset window used at every step except possibly the
	// first.
	SRange Window
	// LRange, when non-nil, overrides SRange only at depth 0 (the first
	// hop from the target). Useful when the first hop is known to be far
	// in one direction but subsequent hops are tightly bounded.
	LRange *Window
	// Node, when non-nil, requires emitted chains to have length >= *Node.
	// A post-filter: it does not prune traversal.
	Node *int
	// Last, when non-nil, requires the chain's final offset (the hop
	// closest to the target, last rendered) to equal *Last exactly.
	Last *int64
	// Max, when non-nil, stops the search after emitting *Max chains.
	// Reaching it ends the search successfully, not with an error.
	Max *int
	// FilterCycles rewrites each emitted chain by collapsing the steps
	// between the first-pushed hop's anchor (the hop closest to the
	// target) and that anchor's last recurrence, when one exists.
	FilterCycles bool
}

// InvalidParam reports a Params value that violates its contract (spec §7).
type InvalidParam struct {
	Reason string
}

func (e *InvalidParam) Error() string {
	return fmt.Sprintf("chainsearch: invalid param: %s", e.Reason)
}

func (p Params) validate() error {
	if p.Depth <= 0 {
		return &InvalidParam{Reason: "depth must be positive"}
	}
	if p.Node != nil {
		if *p.Node < 0 {
			return &InvalidParam{Reason: "node must be non-negative"}
		}
		if *p.Node > p.Depth {
			return &InvalidParam{Reason: "node exceeds depth"}
		}
	}
	if p.Max != nil && *p.Max < 0 {
		return &InvalidParam{Reason: "max must be non-negative"}
	}
	if p.Last != nil {
		lo := -int64(p.SRange.Upper)
		hi := int64(p.SRange.Lower)
		if *p.Last < lo || *p.Last > hi {
			return &InvalidParam{Reason: "last outside srange window"}
		}
	}
	return nil
}
