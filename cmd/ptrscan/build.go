// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/memtrace/ptrscan/scanfile"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a pointer map and write it to a file (readable by search --from)",
	RunE:  runBuild,
}

var (
	buildTarget targetSpec
	buildOut    string
)

func init() {
	buildTarget.addFlags(buildCmd.Flags())
	buildCmd.Flags().StringVar(&buildOut, "out", "", "write the pointer map to this file (required)")
	buildCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	p, classified, err := buildTarget.open()
	if err != nil {
		return err
	}
	defer p.Close()

	g, err := buildGraphFrom(p, classified, buildTarget)
	if err != nil {
		return err
	}
	for _, w := range g.Warnings() {
		slog.Warn("pointer-map build warning", "detail", w)
	}

	f, err := os.OpenFile(buildOut, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("ptrscan: opening %s: %w", buildOut, err)
	}
	defer f.Close()
	if err := scanfile.Encode(f, g); err != nil {
		return err
	}

	slog.Info("pointer map built", "edges", g.ForwardLen(), "points", len(g.Points()), "out", buildOut)
	return nil
}
