// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package proc is the platform-abstract view of a target process (spec
// §4.B, "Process adapter"): attach to a pid or open a core file, enumerate
// its virtual-memory regions, classify them into module and anonymous
// regions, and read bytes at an address.
//
// The live implementation (linux.go) is grounded on
// golang.org/x/debug/program/server's ptrace plumbing: a dedicated OS
// thread owns the traced pid (ptrace calls must come from the thread that
// attached) and every operation is shipped to it over an unbuffered
// channel, exactly as (*Server).ptraceGetRegs etc. do. Region enumeration
// parses /proc/pid/maps directly; github.com/shirou/gopsutil/v3/process is
// only used to check that the pid is alive before attaching. The live
// adapter is Linux-only.
//
// The file-backed implementation (core.go) is grounded on
// golang.org/x/debug/internal/core's ELF core dump reader: it walks
// PT_LOAD program headers the same way core.Core does, without the DWARF
// and symbol-table machinery that package carries — this system never
// resolves symbols (spec Non-goals).
package proc

import (
	"errors"
	"fmt"
	"iter"
)

// RegionKind classifies a Region per spec §3.
type RegionKind int

const (
	// Anonymous is heap, stack, or any other non-image mapping. Anonymous
	// regions are scanned for pointers but never produce a static anchor.
	Anonymous RegionKind = iota
	// ModuleRegion is backed by an on-disk executable image and
	// contributes static anchors.
	ModuleRegion
)

func (k RegionKind) String() string {
	if k == ModuleRegion {
		return "module"
	}
	return "anonymous"
}

// Region is a single raw virtual-memory mapping as reported by the OS,
// before classification/merging (spec §3, "Region (R)").
type Region struct {
	Start, End  uint64
	Readable    bool
	Writable    bool
	Executable  bool
	Path        string // backing file path, "" if anonymous
	Tag         string // platform-specific hint: "heap", "stack", "[anon]", ...
}

// Size returns the byte length of the region.
func (r Region) Size() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Process is the contract every adapter (live pid, core file) implements.
type Process interface {
	// AppPath returns the path to the main executable, "" if unknown.
	AppPath() string

	// Regions lazily yields every VM region the process has mapped, in
	// ascending start-address order.
	Regions() iter.Seq[Region]

	// Read reads up to len(buf) bytes starting at addr. Partial reads are
	// allowed; Read never fails merely because fewer bytes than requested
	// were available at end-of-region.
	Read(addr uint64, buf []byte) (n int, err error)

	// ReadExact reads exactly len(buf) bytes, or returns a ReadFailed
	// error on a short read.
	ReadExact(addr uint64, buf []byte) error

	// Close releases any OS resources (traced pid, open files) held by
	// the adapter.
	Close() error
}

// AttachFailed reports that the OS refused access to a process (spec §7).
type AttachFailed struct {
	PID int
	Err error
}

func (e *AttachFailed) Error() string {
	return fmt.Sprintf("proc: attach to pid %d failed: %v", e.PID, e.Err)
}

func (e *AttachFailed) Unwrap() error { return e.Err }

// QueryFailed reports that region enumeration failed (spec §7).
type QueryFailed struct {
	Err error
}

func (e *QueryFailed) Error() string {
	return fmt.Sprintf("proc: region enumeration failed: %v", e.Err)
}

func (e *QueryFailed) Unwrap() error { return e.Err }

// ReadFailed reports that a memory read failed or returned fewer bytes
// than requested (spec §7). It is always recoverable at region
// granularity: the caller abandons that region and continues the scan.
type ReadFailed struct {
	Addr uint64
	Want int
	Got  int
	Err  error
}

func (e *ReadFailed) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("proc: read at %x failed: %v", e.Addr, e.Err)
	}
	return fmt.Sprintf("proc: short read at %x: got %d of %d bytes", e.Addr, e.Got, e.Want)
}

func (e *ReadFailed) Unwrap() error { return e.Err }

// ErrNoSuchProcess is wrapped by AttachFailed when the pid does not exist.
var ErrNoSuchProcess = errors.New("no such process")
