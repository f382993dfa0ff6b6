// Copyright 2024 The Ptrscan Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proc

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtrace/ptrscan/addrspace"
)

func TestParseModuleList(t *testing.T) {
	in := strings.NewReader(`
# a comment
104b18000-104b38000 game
104b38000-104b3a000 libfoo.so[1]
`)
	mods, err := ParseModuleList(in)
	require.NoError(t, err)
	require.Len(t, mods, 2)
	assert.Equal(t, addrspace.Address(0x104b18000), mods[0].Interval.Start)
	assert.Equal(t, addrspace.Address(0x104b38000), mods[0].Interval.End)
	assert.Equal(t, "game", mods[0].Name)
	assert.Equal(t, "libfoo.so[1]", mods[1].Name)
}

func TestParseModuleListRejectsMalformed(t *testing.T) {
	_, err := ParseModuleList(strings.NewReader("not-a-valid-line\n"))
	assert.Error(t, err)
}

func TestWriteModuleListRoundTrip(t *testing.T) {
	mods := []Module{
		{Interval: addrspace.Interval{Start: 0x1000, End: 0x2000}, Name: "a"},
		{Interval: addrspace.Interval{Start: 0x3000, End: 0x4000}, Name: "b[1]"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteModuleList(&buf, mods))

	got, err := ParseModuleList(&buf)
	require.NoError(t, err)
	require.Equal(t, mods, got)
}
