// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chainsearch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/memtrace/ptrscan/addrspace"
	"github.com/memtrace/ptrscan/pointermap"
)

// SinkFactory opens the per-target output sink for target, by convention a
// "<addr>.scandata" file (spec §6, "Persisted state layout"). RunTargets
// closes whatever it returns.
type SinkFactory func(target addrspace.Address) (io.WriteCloser, error)

// FileSink returns a SinkFactory creating "<addr>.scandata" files under
// dir. Files are opened with O_EXCL: a pre-existing file is an error
// rather than silently appended to, matching spec §5's "new semantics"
// requirement for output files.
func FileSink(dir string) SinkFactory {
	return func(target addrspace.Address) (io.WriteCloser, error) {
		name := filepath.Join(dir, fmt.Sprintf("%s.scandata", target))
		return os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
}

// RunTargets searches every target concurrently, one DFS per target,
// sized to min(len(targets), GOMAXPROCS) (spec §5, "Scheduling model").
// The graph is read-only and shared across all goroutines; each target
// owns its private chain stack and output sink, so no locking is needed
// (spec §5, "Sharing"). It returns the first error from any target search
// (errgroup.Group's default behavior); other targets already in flight
// run to completion since the spec provides no external cancellation
// handle.
func RunTargets(g *pointermap.Graph, targets []addrspace.Address, params Params, newSink SinkFactory) error {
	limit := runtime.GOMAXPROCS(0)
	if len(targets) < limit {
		limit = len(targets)
	}
	if limit <= 0 {
		return nil
	}

	var eg errgroup.Group
	eg.SetLimit(limit)

	for _, target := range targets {
		eg.Go(func() error {
			sink, err := newSink(target)
			if err != nil {
				return fmt.Errorf("chainsearch: opening sink for target %s: %w", target, err)
			}
			defer sink.Close()
			return Search(g, target, params, sink)
		})
	}
	return eg.Wait()
}
