// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proc

import (
	"fmt"
	"path"
	"strings"

	"github.com/memtrace/ptrscan/addrspace"
)

// Module is one logical module-backed anchor region: a run of consecutive
// raw regions sharing the same backing path, collapsed into one interval
// (spec §4.B, "Module-region post-processing").
type Module struct {
	Interval addrspace.Interval
	Name     string // disambiguated basename, e.g. "libc.so[1]"
	Path     string // full backing path
}

// anonTags lists the name/tag substrings that mark an anonymous mapping as
// worth scanning: heap, stack, main-thread data and unnamed anonymous
// mappings. Other tagged mappings (e.g. [vdso]) are dropped.
var anonTags = []string{"heap", "stack", "[anon", "anonymous"}

// systemPathPrefixes excludes OS framework paths that are never useful
// anchors and are expensive to scan (spec §4.B, "Platform blacklists").
var systemPathPrefixes = []string{
	"/usr/lib/",
	"/usr/lib64/",
	"/system/",
	"/system/framework/",
	`\windows\system32\`,
}

func isBlacklistedPath(p string) bool {
	lower := strings.ToLower(p)
	for _, prefix := range systemPathPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	if strings.HasSuffix(lower, ".dex") || strings.HasSuffix(lower, ".odex") {
		return true
	}
	return false
}

func isAnonKeepTag(tag string) bool {
	lower := strings.ToLower(tag)
	for _, t := range anonTags {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// Classified is the region partition produced by classification: the
// module table and the anonymous regions retained for scanning. Together
// with the modules' intervals, this is the scan set S of spec §3.
type Classified struct {
	Modules []Module
	Anon    []Region
}

// ClassifyRegions implements filter_core_regions (spec §4.B): keep a
// region only if it is readable, and either it is module-backed (its path
// survives the system blacklist) or it is anonymous with a tag indicating
// heap/stack/main-thread data. Consecutive module regions sharing a path
// are merged into one logical Module, and repeated basenames are
// disambiguated with a "[i]" suffix.
func ClassifyRegions(raw []Region) Classified {
	var out Classified
	basenameCount := map[string]int{}

	var pendingPath string
	var pendingStart, pendingEnd uint64
	flushPending := func() {
		if pendingPath == "" {
			return
		}
		base := path.Base(pendingPath)
		idx := basenameCount[base]
		basenameCount[base] = idx + 1
		name := base
		if idx > 0 {
			name = fmt.Sprintf("%s[%d]", base, idx)
		}
		out.Modules = append(out.Modules, Module{
			Interval: addrspace.Interval{Start: addrspace.Address(pendingStart), End: addrspace.Address(pendingEnd)},
			Name:     name,
			Path:     pendingPath,
		})
		pendingPath = ""
	}

	for _, r := range raw {
		if !r.Readable {
			continue
		}
		if r.Path != "" {
			if isBlacklistedPath(r.Path) {
				flushPending()
				continue
			}
			if pendingPath == r.Path && pendingEnd == r.Start {
				pendingEnd = r.End
				continue
			}
			flushPending()
			pendingPath, pendingStart, pendingEnd = r.Path, r.Start, r.End
			continue
		}
		// Anonymous region.
		flushPending()
		if isAnonKeepTag(r.Tag) {
			out.Anon = append(out.Anon, r)
		}
	}
	flushPending()

	return out
}
