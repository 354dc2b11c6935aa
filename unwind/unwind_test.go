/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package unwind

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/otel-profiling-report/libpf"
)

func TestFramePointerExpanderWalksSavedFrames(t *testing.T) {
	// Build a stack with two chained frames: bp -> [savedBP][retAddr].
	stack := make([]byte, 64)
	base := uint64(0)

	// Frame 1 at offset 0: saved bp points to frame 2, return address 0x2000.
	binary.LittleEndian.PutUint64(stack[0:8], 16)
	binary.LittleEndian.PutUint64(stack[8:16], 0x2000)

	// Frame 2 at offset 16: its return address 0x3000 is still taken, then
	// savedBP <= bp stops the walk (no further frames).
	binary.LittleEndian.PutUint64(stack[16:24], 16)
	binary.LittleEndian.PutUint64(stack[24:32], 0x3000)

	regs := Registers{IP: 0x1000, SP: base, BP: 0}
	chain, err := FramePointerExpander(regs, stack)
	require.NoError(t, err)

	require.Len(t, chain, 3)
	assert.Equal(t, libpf.Address(0x1000), chain[0])
	assert.Equal(t, libpf.Address(0x2000), chain[1])
	assert.Equal(t, libpf.Address(0x3000), chain[2])
}

func TestFramePointerExpanderHandlesEmptyStack(t *testing.T) {
	chain, err := FramePointerExpander(Registers{IP: 0x1000}, nil)
	require.NoError(t, err)
	assert.Equal(t, []libpf.Address{0x1000}, chain)
}

func TestFramePointerExpanderStopsOnZeroReturnAddress(t *testing.T) {
	stack := make([]byte, 32)
	// bp valid but return address is zero: walk must stop after the IP.
	regs := Registers{IP: 0x1000, SP: 0, BP: 0}
	chain, err := FramePointerExpander(regs, stack)
	require.NoError(t, err)
	assert.Equal(t, []libpf.Address{0x1000}, chain)
}
