// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rangeindex implements the ordered interval collections that
// anchor every address-space lookup in this system: RangeMap, a map from
// non-overlapping half-open intervals to arbitrary values, and RangeSet, a
// set of intervals that automatically coalesces touching neighbors.
//
// Both are backed by github.com/biogo/store/llrb, the same left-leaning
// red-black tree grailbio-bio uses to index genomic shards by
// (refID, start) in encoding/bampair/shard_info.go. Non-overlap lets a
// single field, the interval's start, order the whole collection, exactly
// as that package orders shard keys by (refID, start) alone.
package rangeindex

import (
	"fmt"

	"github.com/biogo/store/llrb"

	"github.com/memtrace/ptrscan/addrspace"
)

// mapEntry is the llrb.Comparable stored in a RangeMap's tree. Only Start
// participates in ordering; non-overlap guarantees that's sufficient.
type mapEntry[V any] struct {
	iv  addrspace.Interval
	val V
}

func (e mapEntry[V]) Compare(c llrb.Comparable) int {
	o := c.(mapEntry[V])
	switch {
	case e.iv.Start < o.iv.Start:
		return -1
	case e.iv.Start > o.iv.Start:
		return 1
	default:
		return 0
	}
}

// RangeMap is a map from non-overlapping half-open intervals to values of
// type V. The zero value is an empty, ready to use map.
type RangeMap[V any] struct {
	tree llrb.Tree
	n    int
}

// Insert adds iv -> v. It panics if iv.Start > iv.End. Callers are
// responsible for non-overlap; Insert does not check it, matching the
// contract in spec §4.A ("panics if iv.start > iv.end; otherwise keys by
// iv.start").
func (m *RangeMap[V]) Insert(iv addrspace.Interval, v V) {
	if iv.Start > iv.End {
		panic(fmt.Sprintf("rangeindex: interval start %x after end %x", iv.Start, iv.End))
	}
	m.tree.Insert(mapEntry[V]{iv: iv, val: v})
	m.n++
}

// GetContaining returns the interval (and its value) that strictly
// contains point, or ok == false if no interval does.
func (m *RangeMap[V]) GetContaining(point addrspace.Address) (iv addrspace.Interval, v V, ok bool) {
	probe := mapEntry[V]{iv: addrspace.Interval{Start: point, End: point}}
	c := m.tree.Floor(probe)
	if c == nil {
		return iv, v, false
	}
	e := c.(mapEntry[V])
	if !e.iv.Contains(point) {
		return iv, v, false
	}
	return e.iv, e.val, true
}

// Len returns the number of entries in the map.
func (m *RangeMap[V]) Len() int {
	return m.n
}

// Clear empties the map.
func (m *RangeMap[V]) Clear() {
	m.tree = llrb.Tree{}
	m.n = 0
}

// Iter calls fn for every entry in ascending interval-start order. Iter
// stops early if fn returns false.
func (m *RangeMap[V]) Iter(fn func(iv addrspace.Interval, v V) bool) {
	m.tree.Do(func(c llrb.Comparable) bool {
		e := c.(mapEntry[V])
		return !fn(e.iv, e.val)
	})
}

// setEntry is the llrb.Comparable stored in a RangeSet's tree.
type setEntry struct {
	iv addrspace.Interval
}

func (e setEntry) Compare(c llrb.Comparable) int {
	o := c.(setEntry)
	switch {
	case e.iv.Start < o.iv.Start:
		return -1
	case e.iv.Start > o.iv.Start:
		return 1
	default:
		return 0
	}
}

// RangeSet is a set of half-open intervals. Touching or overlapping
// intervals (max(start) <= min(end)) are automatically coalesced on
// Insert. The zero value is an empty, ready to use set.
type RangeSet struct {
	tree llrb.Tree
	n    int
}

// Insert adds iv to the set, merging it with any interval it touches. It
// panics if iv.Start > iv.End.
func (s *RangeSet) Insert(iv addrspace.Interval) {
	if iv.Start > iv.End {
		panic(fmt.Sprintf("rangeindex: interval start %x after end %x", iv.Start, iv.End))
	}
	merged := iv

	// Absorb any touching predecessor(s). A well-formed set only ever has
	// one, but the loop is safe if that invariant is ever violated by a
	// caller poking at the tree directly.
	for {
		c := s.tree.Floor(setEntry{merged})
		if c == nil {
			break
		}
		e := c.(setEntry)
		if !e.iv.Touches(merged) {
			break
		}
		merged = merged.Union(e.iv)
		s.tree.Delete(e)
		s.n--
	}
	// Absorb any touching successor(s).
	for {
		c := s.tree.Ceil(setEntry{merged})
		if c == nil {
			break
		}
		e := c.(setEntry)
		if !e.iv.Touches(merged) {
			break
		}
		merged = merged.Union(e.iv)
		s.tree.Delete(e)
		s.n--
	}

	s.tree.Insert(setEntry{merged})
	s.n++
}

// GetContaining returns the interval containing point, or ok == false.
func (s *RangeSet) GetContaining(point addrspace.Address) (iv addrspace.Interval, ok bool) {
	c := s.tree.Floor(setEntry{addrspace.Interval{Start: point, End: point}})
	if c == nil {
		return iv, false
	}
	e := c.(setEntry)
	if !e.iv.Contains(point) {
		return iv, false
	}
	return e.iv, true
}

// Contains reports whether point lies in any interval of the set.
func (s *RangeSet) Contains(point addrspace.Address) bool {
	_, ok := s.GetContaining(point)
	return ok
}

// Len returns the number of (already coalesced) intervals in the set.
func (s *RangeSet) Len() int {
	return s.n
}

// Clear empties the set.
func (s *RangeSet) Clear() {
	s.tree = llrb.Tree{}
	s.n = 0
}

// Iter calls fn for every interval in ascending start order. Iter stops
// early if fn returns false.
func (s *RangeSet) Iter(fn func(iv addrspace.Interval) bool) {
	s.tree.Do(func(c llrb.Comparable) bool {
		e := c.(setEntry)
		return !fn(e.iv)
	})
}
