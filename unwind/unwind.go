/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

// Package unwind implements the Unwinder external collaborator: given a
// captured register set and a stack snapshot, it expands them into a chain
// of instruction addresses. The report engine treats this as an opaque
// callee (spec.md section 1) invoked only for samples that arrive with a
// raw register+stack snapshot rather than an already-expanded callchain.
package unwind // import "github.com/elastic/otel-profiling-report/unwind"

import (
	"encoding/binary"

	"github.com/elastic/otel-profiling-report/libpf"
)

// Registers is the minimal register snapshot needed to seed frame-pointer
// unwinding on amd64/arm64: instruction pointer, stack pointer and frame
// pointer.
type Registers struct {
	IP, SP, BP uint64
}

// Expander expands one sample's register+stack snapshot into a chain of
// instruction addresses, innermost frame first.
type Expander func(regs Registers, stack []byte) ([]libpf.Address, error)

// MaxFrames bounds how deep FramePointerExpander will chase the frame
// pointer chain, guarding against a corrupted or cyclic stack.
const MaxFrames = 256

// FramePointerExpander expands a snapshot by walking the classic
// saved-frame-pointer/return-address chain: stack[bp-base] holds the
// caller's bp, stack[bp-base+8] holds the return address. It requires the
// captured binaries to have been built with frame pointers preserved; that
// precondition is the unwinder's caller's problem, not this package's —
// the report engine only ever sees the resulting address chain.
func FramePointerExpander(regs Registers, stack []byte) ([]libpf.Address, error) {
	addrs := []libpf.Address{libpf.Address(regs.IP)}

	if len(stack) == 0 {
		return addrs, nil
	}
	base := regs.SP

	bp := regs.BP
	for range MaxFrames {
		if bp < base || bp+16 > base+uint64(len(stack)) {
			break
		}
		off := bp - base
		savedBP := binary.LittleEndian.Uint64(stack[off : off+8])
		retAddr := binary.LittleEndian.Uint64(stack[off+8 : off+16])
		if retAddr == 0 {
			break
		}
		addrs = append(addrs, libpf.Address(retAddr))
		if savedBP <= bp {
			break
		}
		bp = savedBP
	}
	return addrs, nil
}
