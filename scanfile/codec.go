// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scanfile implements the on-disk pointer-map format (spec §4.D):
// a small fixed header, a module table, and a pointer stream. Encoding
// follows golang.org/x/debug/internal/core's style of hand-rolled
// little-endian binary.Read/Write over a flat byte layout, since that is
// exactly what a core dump reader already does for NT_FILE notes
// (internal/core/process.go's readNTFile).
package scanfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/memtrace/ptrscan/addrspace"
	"github.com/memtrace/ptrscan/pointermap"
	"github.com/memtrace/ptrscan/proc"
)

const (
	magic           = "@PTR"
	archCode64      = 2
	reservedBytes   = 116
	headerSize      = 4 + 4 + reservedBytes + 4 // = 128
	moduleCountOff  = 124
)

// CorruptFile reports a malformed on-disk pointer-map (spec §7): bad
// magic, unknown architecture code, truncation, or an unreadable module
// name.
type CorruptFile struct {
	Reason string
	Err    error
}

func (e *CorruptFile) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scanfile: corrupt file: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("scanfile: corrupt file: %s", e.Reason)
}

func (e *CorruptFile) Unwrap() error { return e.Err }

// Encode writes g to w in the on-disk pointer-map format.
func Encode(w io.Writer, g *pointermap.Graph) error {
	bw := bufio.NewWriter(w)

	var header [headerSize]byte
	copy(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], archCode64)
	// header[8:124] stays zeroed (reserved).

	var mods []proc.Module
	g.Modules().Iter(func(iv addrspace.Interval, name string) bool {
		mods = append(mods, proc.Module{Interval: iv, Name: name})
		return true
	})
	binary.LittleEndian.PutUint32(header[moduleCountOff:moduleCountOff+4], uint32(len(mods)))

	if _, err := bw.Write(header[:]); err != nil {
		return err
	}

	var word [8]byte
	for _, m := range mods {
		binary.LittleEndian.PutUint64(word[:], uint64(m.Interval.Start))
		if _, err := bw.Write(word[:]); err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(word[:], uint64(m.Interval.End))
		if _, err := bw.Write(word[:]); err != nil {
			return err
		}
		nameBytes := []byte(m.Name)
		binary.LittleEndian.PutUint64(word[:], uint64(len(nameBytes)))
		if _, err := bw.Write(word[:]); err != nil {
			return err
		}
		if _, err := bw.Write(nameBytes); err != nil {
			return err
		}
	}

	var kv [16]byte
	var writeErr error
	g.ForEachForward(func(k, v addrspace.Address) bool {
		binary.LittleEndian.PutUint64(kv[0:8], uint64(k))
		binary.LittleEndian.PutUint64(kv[8:16], uint64(v))
		if _, err := bw.Write(kv[:]); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	if writeErr != nil {
		return writeErr
	}

	return bw.Flush()
}

// Decode reads the on-disk pointer-map format from r and rebuilds the same
// pointer graph a live scan would have produced: F, V, M and the derived
// P and density bit are all re-derived from the pointer stream (spec
// §4.D, "Loader rebuilds...").
func Decode(r io.Reader) (*pointermap.Graph, error) {
	br := bufio.NewReader(r)

	var header [headerSize]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, &CorruptFile{Reason: "truncated header", Err: err}
	}
	if string(header[0:4]) != magic {
		return nil, &CorruptFile{Reason: fmt.Sprintf("bad magic %q", header[0:4])}
	}
	arch := binary.LittleEndian.Uint32(header[4:8])
	if arch != archCode64 {
		return nil, &CorruptFile{Reason: fmt.Sprintf("unknown architecture code %d", arch)}
	}
	n := binary.LittleEndian.Uint32(header[moduleCountOff : moduleCountOff+4])

	mods := make([]proc.Module, 0, n)
	var word [8]byte
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(br, word[:]); err != nil {
			return nil, &CorruptFile{Reason: "truncated module table", Err: err}
		}
		start := binary.LittleEndian.Uint64(word[:])
		if _, err := io.ReadFull(br, word[:]); err != nil {
			return nil, &CorruptFile{Reason: "truncated module table", Err: err}
		}
		end := binary.LittleEndian.Uint64(word[:])
		if _, err := io.ReadFull(br, word[:]); err != nil {
			return nil, &CorruptFile{Reason: "truncated module table", Err: err}
		}
		nameLen := binary.LittleEndian.Uint64(word[:])
		nameBytes := make([]byte, nameLen)
		if _, err := io.ReadFull(br, nameBytes); err != nil {
			return nil, &CorruptFile{Reason: "truncated module name", Err: err}
		}
		name, err := sanitizeModuleName(nameBytes)
		if err != nil {
			return nil, &CorruptFile{Reason: "undecodable module name", Err: err}
		}
		mods = append(mods, proc.Module{
			Interval: addrspace.Interval{Start: addrspace.Address(start), End: addrspace.Address(end)},
			Name:     name,
		})
	}

	builder := pointermap.NewBuilderFromModules(mods)

	var kv [16]byte
	for {
		_, err := io.ReadFull(br, kv[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &CorruptFile{Reason: "truncated pointer stream", Err: err}
		}
		k := addrspace.Address(binary.LittleEndian.Uint64(kv[0:8]))
		v := addrspace.Address(binary.LittleEndian.Uint64(kv[8:16]))
		builder.AddEdge(k, v)
	}

	return builder.Finish(), nil
}

// sanitizeModuleName decodes name bytes that need not be valid UTF-8 on
// disk (spec §4.D) into a string the rest of the engine can safely treat
// as text. Bytes that still don't decode as valid UTF-8 after this pass
// are replaced with the Unicode replacement character rather than
// rejecting the whole file, matching the spec's "implementations may
// surface decode errors as CorruptFile" as a caller's choice, not a
// mandatory hard failure for otherwise-recoverable names.
func sanitizeModuleName(b []byte) (string, error) {
	// The UTF-8 decoder's Transform writes U+FFFD for invalid sequences,
	// recovering a usable display name instead of carrying raw bytes
	// forward as a non-UTF-8 Go string.
	decoder := unicode.UTF8.NewDecoder()
	out, _, err := transform.Bytes(decoder, b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
