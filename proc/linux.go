// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package proc

import (
	"bufio"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// LiveProcess is a ptrace-attached view of a running Linux process.
//
// ptrace(2) requires every call for a given tracee to come from the same
// OS thread that issued PTRACE_ATTACH. LiveProcess owns a dedicated,
// locked OS thread (cmds/errs channel pair) for exactly that reason,
// mirroring golang.org/x/debug/program/server's ptraceRun: "ptrace calls
// must come from the same thread that originally attached to the remote
// thread."
type LiveProcess struct {
	pid int

	cmds chan func() error
	errs chan error
	done chan struct{}

	exe string
}

// OpenLive attaches to pid via PTRACE_ATTACH. It fails with *AttachFailed
// if the OS refuses (missing pid, insufficient permissions). Before
// attaching, it uses gopsutil to confirm the pid is actually alive, so a
// stale pid produces a clean AttachFailed instead of a confusing ptrace
// errno.
func OpenLive(pid int) (*LiveProcess, error) {
	if gp, err := process.NewProcess(int32(pid)); err != nil {
		return nil, &AttachFailed{PID: pid, Err: err}
	} else if running, err := gp.IsRunning(); err != nil || !running {
		return nil, &AttachFailed{PID: pid, Err: ErrNoSuchProcess}
	}

	p := &LiveProcess{
		pid:  pid,
		cmds: make(chan func() error),
		errs: make(chan error),
		done: make(chan struct{}),
	}

	ready := make(chan error, 1)
	go p.loop(ready)
	if err := <-ready; err != nil {
		return nil, &AttachFailed{PID: pid, Err: err}
	}

	if exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid)); err == nil {
		p.exe = exe
	} else if exe, err := process.NewProcess(int32(pid)); err == nil {
		if path, err := exe.Exe(); err == nil {
			p.exe = path
		}
	}

	return p, nil
}

// loop runs on a single locked OS thread for the lifetime of the attach,
// exactly as (server).ptraceRun does: attach, report readiness, then
// service commands from cmds until told to stop.
func (p *LiveProcess) loop(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := unix.PtraceAttach(p.pid); err != nil {
		ready <- err
		return
	}
	var status unix.WaitStatus
	if _, err := unix.Wait4(p.pid, &status, 0, nil); err != nil {
		ready <- err
		return
	}
	ready <- nil

	for {
		select {
		case f := <-p.cmds:
			p.errs <- f()
		case <-p.done:
			unix.PtraceDetach(p.pid)
			return
		}
	}
}

func (p *LiveProcess) do(f func() error) error {
	p.cmds <- f
	return <-p.errs
}

// AppPath returns the path the kernel reports for /proc/pid/exe.
func (p *LiveProcess) AppPath() string {
	return p.exe
}

// Regions parses /proc/pid/maps directly rather than going through
// gopsutil's MemoryMaps: gopsutil reports per-mapping RSS/PSS statistics
// keyed by path, not the start/end addresses this system needs, so it can
// only help with process discovery (see OpenLive), not region bounds.
func (p *LiveProcess) Regions() iter.Seq[Region] {
	return func(yield func(Region) bool) {
		f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
		if err != nil {
			slog.Error("opening /proc/pid/maps failed", "pid", p.pid, "err", err)
			return
		}
		defer f.Close()

		sc := bufio.NewScanner(f)
		for sc.Scan() {
			r, ok := parseMapsLine(sc.Text())
			if !ok {
				continue
			}
			if !yield(r) {
				return
			}
		}
	}
}

// parseMapsLine parses one /proc/pid/maps line:
//
//	start-end perms offset dev inode pathname
func parseMapsLine(line string) (Region, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Region{}, false
	}
	bounds := strings.SplitN(fields[0], "-", 2)
	if len(bounds) != 2 {
		return Region{}, false
	}
	start, err := strconv.ParseUint(bounds[0], 16, 64)
	if err != nil {
		return Region{}, false
	}
	end, err := strconv.ParseUint(bounds[1], 16, 64)
	if err != nil {
		return Region{}, false
	}
	perms := fields[1]
	r := Region{
		Start:      start,
		End:        end,
		Readable:   len(perms) > 0 && perms[0] == 'r',
		Writable:   len(perms) > 1 && perms[1] == 'w',
		Executable: len(perms) > 2 && perms[2] == 'x',
	}
	if len(fields) >= 6 {
		path := fields[5]
		if strings.HasPrefix(path, "[") {
			r.Tag = path
		} else {
			r.Path = path
		}
	} else {
		r.Tag = "[anon]"
	}
	return r, true
}

// Read reads up to len(buf) bytes via process_vm_readv(2). Short reads at the tail of a mapping are reported, not
// treated as an error.
func (p *LiveProcess) Read(addr uint64, buf []byte) (int, error) {
	var n int
	err := p.do(func() error {
		local := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
		remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
		got, err := unix.ProcessVMReadv(p.pid, local, remote, 0)
		n = got
		return err
	})
	if err != nil && n == 0 {
		return 0, &ReadFailed{Addr: addr, Want: len(buf), Got: n, Err: err}
	}
	return n, nil
}

// ReadExact reads exactly len(buf) bytes or returns *ReadFailed.
func (p *LiveProcess) ReadExact(addr uint64, buf []byte) error {
	n, err := p.Read(addr, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return &ReadFailed{Addr: addr, Want: len(buf), Got: n}
	}
	return nil
}

// Close detaches from the tracee and stops the owning thread.
func (p *LiveProcess) Close() error {
	close(p.done)
	return nil
}
