// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/memtrace/ptrscan/chainsearch"
	"github.com/memtrace/ptrscan/proc"
)

var testCmd = &cobra.Command{
	Use:   "test [chain]",
	Short: "Walk a chain against a live process and print the terminal address",
	Long: `test resolves a chain (NAME+BASE.o1.o2...on) against the live module
table and dereferences through the process itself, one hop at a time,
rather than a previously captured pointer map.

With one positional argument, test walks that chain once and exits. With
none, test starts an interactive shell: each line is a chain to walk,
"modules" lists the current module table, and Ctrl-D exits.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTest,
}

var testTarget targetSpec

func init() {
	testTarget.addFlags(testCmd.Flags())
	rootCmd.AddCommand(testCmd)
}

func runTest(cmd *cobra.Command, args []string) error {
	if testTarget.pid == 0 {
		return fmt.Errorf("ptrscan: test requires a live --pid (walking is meaningless against a frozen core file)")
	}
	p, classified, err := testTarget.open()
	if err != nil {
		return err
	}
	defer p.Close()

	if len(args) == 1 {
		return walkAndPrint(cmd.OutOrStdout(), p, classified.Modules, args[0])
	}
	return testREPL(cmd.OutOrStdout(), p, classified.Modules)
}

func walkAndPrint(w io.Writer, p proc.Process, mods []proc.Module, chain string) error {
	r, err := chainsearch.ParseChain(chain)
	if err != nil {
		return err
	}
	terminal, steps, err := chainsearch.Walk(p, mods, r)
	if err != nil {
		fmt.Fprintf(w, "failed at hop %d, address %s: %v\n", len(steps)-1, terminal, err)
		return nil
	}
	fmt.Fprintf(w, "%s\n", terminal)
	return nil
}

func testREPL(w io.Writer, p proc.Process, mods []proc.Module) error {
	rl, err := readline.New("ptrscan> ")
	if err != nil {
		return fmt.Errorf("ptrscan: starting interactive shell: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF on Ctrl-D, readline.ErrInterrupt on Ctrl-C
			return nil
		}
		switch line {
		case "":
			continue
		case "modules":
			for _, m := range mods {
				fmt.Fprintf(w, "%s-%s %s\n", m.Interval.Start, m.Interval.End, m.Name)
			}
			continue
		}
		if err := walkAndPrint(w, p, mods, line); err != nil {
			fmt.Fprintf(w, "%v\n", err)
		}
	}
}
