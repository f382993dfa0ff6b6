// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/memtrace/ptrscan/chainsearch"
	"github.com/memtrace/ptrscan/pointermap"
	"github.com/memtrace/ptrscan/proc"
	"github.com/memtrace/ptrscan/scanfile"
)

// targetSpec holds the flags every subcommand that opens a process or a
// pointer map shares.
type targetSpec struct {
	pid        int
	coreFile   string
	exePath    string
	moduleList string
	unaligned  bool
	chunkSize  int
}

func (t *targetSpec) addFlags(cmd flagAdder) {
	cmd.IntVar(&t.pid, "pid", 0, "attach to this live process id")
	cmd.StringVar(&t.coreFile, "core", "", "read this ELF core dump instead of a live process")
	cmd.StringVar(&t.exePath, "exe", "", "path to the main executable, recorded alongside --core")
	cmd.StringVar(&t.moduleList, "modules", "", "override the derived module table with this module-list file")
	cmd.BoolVar(&t.unaligned, "unaligned", false, "scan every byte offset instead of only 8-byte-aligned words")
	cmd.IntVar(&t.chunkSize, "chunk-size", 0, "scan buffer size in bytes (0 selects a platform default)")
}

// flagAdder is the subset of *pflag.FlagSet (via cobra.Command.Flags())
// that addFlags needs; it lets targetSpec bind to any command's flag set
// without importing pflag directly here.
type flagAdder interface {
	IntVar(p *int, name string, value int, usage string)
	StringVar(p *string, name, value, usage string)
	BoolVar(p *bool, name string, value bool, usage string)
}

// open attaches to the configured process (or core file) and classifies
// its regions. The returned proc.Process must be closed by the caller.
func (t *targetSpec) open() (proc.Process, proc.Classified, error) {
	var p proc.Process
	var err error
	switch {
	case t.coreFile != "":
		p, err = proc.OpenCore(t.coreFile, t.exePath)
	case t.pid != 0:
		p, err = proc.OpenLive(t.pid)
	default:
		return nil, proc.Classified{}, errors.New("ptrscan: one of --pid or --core is required")
	}
	if err != nil {
		return nil, proc.Classified{}, err
	}

	var raw []proc.Region
	for r := range p.Regions() {
		raw = append(raw, r)
	}
	classified := proc.ClassifyRegions(raw)

	if t.moduleList != "" {
		f, ferr := os.Open(t.moduleList)
		if ferr != nil {
			p.Close()
			return nil, proc.Classified{}, fmt.Errorf("ptrscan: opening module list: %w", ferr)
		}
		mods, perr := proc.ParseModuleList(f)
		f.Close()
		if perr != nil {
			p.Close()
			return nil, proc.Classified{}, perr
		}
		classified.Modules = mods
	}
	return p, classified, nil
}

func (t *targetSpec) buildOptions() pointermap.Options {
	return pointermap.Options{Unaligned: t.unaligned, ChunkSize: t.chunkSize}
}

// buildGraph opens the configured process, builds its pointer map, and
// closes the process adapter before returning. Subcommands that only need
// the graph (search, when not reading a pointer-map file via --from) use this instead
// of calling open and pointermap.Build separately.
func buildGraph(t *targetSpec) (*pointermap.Graph, error) {
	p, classified, err := t.open()
	if err != nil {
		return nil, err
	}
	defer p.Close()
	return buildGraphFrom(p, classified, *t)
}

// buildGraphFrom builds a pointer map from an already-opened process, for
// callers that need the process adapter afterward (build logs warnings
// before closing it).
func buildGraphFrom(p proc.Process, classified proc.Classified, t targetSpec) (*pointermap.Graph, error) {
	return pointermap.Build(p, classified, t.buildOptions())
}

// parseWindow parses a "lr,ur" flag value into a chainsearch.Window.
func parseWindow(s string) (chainsearch.Window, error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return chainsearch.Window{}, fmt.Errorf("ptrscan: malformed window %q, want \"lr,ur\"", s)
	}
	lr, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return chainsearch.Window{}, fmt.Errorf("ptrscan: malformed window lower bound %q: %w", parts[0], err)
	}
	ur, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return chainsearch.Window{}, fmt.Errorf("ptrscan: malformed window upper bound %q: %w", parts[1], err)
	}
	return chainsearch.Window{Lower: lr, Upper: ur}, nil
}

// exitCodeFor maps a surfaced error to a process exit code (spec §6,
// "Exit code 0 on success, non-zero on any surfaced error").
func exitCodeFor(err error) int {
	switch {
	case errors.As(err, new(*proc.AttachFailed)):
		return 3
	case errors.As(err, new(*proc.QueryFailed)):
		return 4
	case errors.As(err, new(*scanfile.CorruptFile)):
		return 5
	case errors.As(err, new(*chainsearch.InvalidParam)):
		return 6
	case errors.As(err, new(*chainsearch.NoStaticAnchor)):
		return 7
	case errors.As(err, new(*chainsearch.WriteFailed)):
		return 8
	default:
		return 1
	}
}
