// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ptrscan finds static-base-anchored pointer chains that reach a
// target address inside a running process or a captured pointer map.
// Run "ptrscan help" for a list of subcommands.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/pprof"

	"github.com/google/pprof/profile"
	"github.com/spf13/cobra"
)

var (
	logJSON   bool
	profFile  string
	profClose func()
)

var rootCmd = &cobra.Command{
	Use:           "ptrscan",
	Short:         "Pointer-chain scanner for reverse-engineered processes",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		installLogger(logJSON)
		if profFile != "" {
			f, err := os.Create(profFile)
			if err != nil {
				return fmt.Errorf("opening profile file: %w", err)
			}
			if err := pprof.StartCPUProfile(f); err != nil {
				f.Close()
				return fmt.Errorf("starting cpu profile: %w", err)
			}
			profClose = func() {
				pprof.StopCPUProfile()
				f.Close()
				reportProfile(profFile)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if profClose != nil {
			profClose()
		}
	},
}

// installLogger sets the process-wide slog default the way viewcore's
// main.go installs a single flag set: one place, once, before any
// subcommand runs.
func installLogger(jsonOutput bool) {
	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	slog.SetDefault(slog.New(handler))
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit structured logs as JSON instead of text")
	rootCmd.PersistentFlags().StringVar(&profFile, "prof", "", "write a CPU profile of ptrscan itself to this file (for ptrscan's developers)")
}

// reportProfile parses the just-written CPU profile with google/pprof's
// profile package and logs a one-line summary, so a developer chasing a
// slow build/search doesn't need to open a separate viewer just to see
// whether the profile is worth opening at all.
func reportProfile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	prof, err := profile.Parse(f)
	if err != nil {
		slog.Warn("could not parse written cpu profile", "file", path, "err", err)
		return
	}
	slog.Info("cpu profile written", "file", path, "samples", len(prof.Sample), "duration_ns", prof.DurationNanos)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ptrscan: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}
