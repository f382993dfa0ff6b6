// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/memtrace/ptrscan/addrspace"
)

// ParseModuleList reads the module list text format (spec §6): lines of
// "START-END NAME", hex, space-separated. It is consumed when the caller
// supplies a precomputed module table instead of letting the engine derive
// one from a live process or core file classification.
func ParseModuleList(r io.Reader) ([]Module, error) {
	var mods []Module
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("proc: module list line %d: want \"START-END NAME\", got %q", lineNo, line)
		}
		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("proc: module list line %d: malformed range %q", lineNo, fields[0])
		}
		start, err := strconv.ParseUint(bounds[0], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("proc: module list line %d: %w", lineNo, err)
		}
		end, err := strconv.ParseUint(bounds[1], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("proc: module list line %d: %w", lineNo, err)
		}
		name := strings.Join(fields[1:], " ")
		mods = append(mods, Module{
			Interval: addrspace.Interval{Start: addrspace.Address(start), End: addrspace.Address(end)},
			Name:     name,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return mods, nil
}

// WriteModuleList emits the module list text format for mods, in the
// order given. This is the supplemented, emitting half of the format
// (spec's supplemented feature #4): the spec only requires the parser.
func WriteModuleList(w io.Writer, mods []Module) error {
	bw := bufio.NewWriter(w)
	for _, m := range mods {
		if _, err := fmt.Fprintf(bw, "%x-%x %s\n", uint64(m.Interval.Start), uint64(m.Interval.End), m.Name); err != nil {
			return err
		}
	}
	return bw.Flush()
}
