// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/memtrace/ptrscan/proc"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List the module regions a process (or core file) would scan",
	RunE:  runModules,
}

var (
	modulesTarget      targetSpec
	modulesFormat      string
	modulesIncludeAnon bool
)

func init() {
	modulesTarget.addFlags(modulesCmd.Flags())
	modulesCmd.Flags().StringVar(&modulesFormat, "format", "table", `output format: "table" or "text"`)
	modulesCmd.Flags().BoolVar(&modulesIncludeAnon, "anon", false, "also list the anonymous regions kept for scanning")
	rootCmd.AddCommand(modulesCmd)
}

func runModules(cmd *cobra.Command, args []string) error {
	p, classified, err := modulesTarget.open()
	if err != nil {
		return err
	}
	defer p.Close()

	// Supplemented feature: the module-list format is consumed by the
	// spec but never specified as an emitter; --format text exposes the
	// same writer the module-list override reads back in.
	if modulesFormat == "text" {
		return proc.WriteModuleList(os.Stdout, classified.Modules)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"start", "end", "size", "name"})
	for _, m := range classified.Modules {
		t.AppendRow(table.Row{m.Interval.Start, m.Interval.End, m.Interval.Len(), m.Name})
	}
	t.Render()

	if modulesIncludeAnon {
		at := table.NewWriter()
		at.SetOutputMirror(os.Stdout)
		at.AppendHeader(table.Row{"start", "end", "size", "tag"})
		for _, a := range classified.Anon {
			at.AppendRow(table.Row{a.Start, a.End, a.Size(), a.Tag})
		}
		at.Render()
	}
	return nil
}
