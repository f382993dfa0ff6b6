// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/memtrace/ptrscan/addrspace"
	"github.com/memtrace/ptrscan/chainsearch"
	"github.com/memtrace/ptrscan/pointermap"
	"github.com/memtrace/ptrscan/scanfile"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search for pointer chains reaching one or more target addresses",
	RunE:  runSearch,
}

var (
	searchTarget    targetSpec
	searchFrom      string
	searchTargets   []string
	searchOutDir    string
	searchDepth     int
	searchSRange    string
	searchLRange    string
	searchNode      int
	searchLast      string
	searchMax       int
	searchFilterCyc bool
)

func init() {
	searchTarget.addFlags(searchCmd.Flags())
	searchCmd.Flags().StringVar(&searchFrom, "from", "", "read a previously built pointer map instead of attaching")
	searchCmd.Flags().StringSliceVar(&searchTargets, "target", nil, "target address, hex (repeatable)")
	searchCmd.Flags().StringVar(&searchOutDir, "out-dir", ".", "directory to write <target>.scandata files into")
	searchCmd.Flags().IntVar(&searchDepth, "depth", 5, "maximum chain length")
	searchCmd.Flags().StringVar(&searchSRange, "srange", "0,0", `steady-state window "lr,ur"`)
	searchCmd.Flags().StringVar(&searchLRange, "lrange", "", `first-hop window override "lr,ur" (default: same as srange)`)
	searchCmd.Flags().IntVar(&searchNode, "node", -1, "minimum chain length (-1: unset)")
	searchCmd.Flags().StringVar(&searchLast, "last", "", "require this exact final offset, signed, hex")
	searchCmd.Flags().IntVar(&searchMax, "max", -1, "stop after this many chains per target (-1: unbounded)")
	searchCmd.Flags().BoolVar(&searchFilterCyc, "filter-cycles", false, "collapse repeated-anchor cycles to their largest tail")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if len(searchTargets) == 0 {
		return &chainsearch.InvalidParam{Reason: "at least one --target is required"}
	}

	g, err := loadOrBuildGraph()
	if err != nil {
		return err
	}

	params, err := searchParams()
	if err != nil {
		return err
	}

	targets := make([]addrspace.Address, len(searchTargets))
	for i, s := range searchTargets {
		n, err := strconv.ParseUint(s, 16, 64)
		if err != nil {
			return fmt.Errorf("ptrscan: malformed --target %q: %w", s, err)
		}
		targets[i] = addrspace.Address(n)
	}

	if err := os.MkdirAll(searchOutDir, 0o755); err != nil {
		return fmt.Errorf("ptrscan: creating %s: %w", searchOutDir, err)
	}
	return chainsearch.RunTargets(g, targets, params, chainsearch.FileSink(searchOutDir))
}

func loadOrBuildGraph() (*pointermap.Graph, error) {
	if searchFrom != "" {
		f, err := os.Open(searchFrom)
		if err != nil {
			return nil, fmt.Errorf("ptrscan: opening %s: %w", searchFrom, err)
		}
		defer f.Close()
		return scanfile.Decode(f)
	}
	return buildGraph(&searchTarget)
}

func searchParams() (chainsearch.Params, error) {
	sr, err := parseWindow(searchSRange)
	if err != nil {
		return chainsearch.Params{}, err
	}
	params := chainsearch.Params{
		Depth:        searchDepth,
		SRange:       sr,
		FilterCycles: searchFilterCyc,
	}
	if searchLRange != "" {
		lr, err := parseWindow(searchLRange)
		if err != nil {
			return chainsearch.Params{}, err
		}
		params.LRange = &lr
	}
	if searchNode >= 0 {
		params.Node = &searchNode
	}
	if searchMax >= 0 {
		params.Max = &searchMax
	}
	if searchLast != "" {
		last, err := parseSignedHex(searchLast)
		if err != nil {
			return chainsearch.Params{}, fmt.Errorf("ptrscan: malformed --last %q: %w", searchLast, err)
		}
		params.Last = &last
	}
	return params, nil
}

func parseSignedHex(s string) (int64, error) {
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg, s = true, s[1:]
	}
	u, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, err
	}
	if neg {
		return -int64(u), nil
	}
	return int64(u), nil
}
