// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package monitor implements the trap interception and virtual-privilege
// emulation engine: a guest firmware image runs at a lower real privilege
// level while observing the register and CSR visible state of a machine
// level environment, with every privileged operation trapped, checked
// against the active security policy, and emulated.
package monitor

import (
	"fmt"

	"github.com/vfmon/vfmon/mem"
	"github.com/vfmon/vfmon/pmp"
)

// Mode is a virtual privilege mode, in the architectural encoding. The
// firmware executes at virtual machine mode, the payload at virtual
// supervisor or user mode.
type Mode uint8

const (
	ModeU Mode = 0
	ModeS Mode = 1
	ModeM Mode = 3
)

// String returns the mode letter.
func (m Mode) String() string {
	switch m {
	case ModeU:
		return "U"
	case ModeS:
		return "S"
	case ModeM:
		return "M"
	default:
		return "?"
	}
}

// Owner returns the owner tag executing at this mode.
func (m Mode) Owner() mem.Owner {
	if m == ModeM {
		return mem.OwnerFirmware
	}

	return mem.OwnerPayload
}

// General purpose register indices, ABI names.
const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegA0   = 10
	RegA1   = 11
	RegA2   = 12
	RegA3   = 13
	RegA4   = 14
	RegA5   = 15
	RegA6   = 16
	RegA7   = 17
)

// CSRFile is the per-hart virtual CSR subset. Values are stored already
// normalized, a read never observes an illegal field value.
type CSRFile struct {
	Mstatus  uint64
	Misa     uint64
	Medeleg  uint64
	Mideleg  uint64
	Mie      uint64
	Mip      uint64
	Mtvec    uint64
	Mscratch uint64
	Mepc     uint64
	Mcause   uint64
	Mtval    uint64

	Mcounteren uint64
	Menvcfg    uint64

	Stvec    uint64
	Sscratch uint64
	Sepc     uint64
	Scause   uint64
	Stval    uint64
	Satp     uint64
}

// HartContext is the captured execution state of one hart: the general
// purpose registers at trap entry, the virtual CSR file, the virtual PMP
// view and the current virtual privilege mode.
//
// A HartContext is owned exclusively by its hart, created at boot and
// mutated only by trap handling on that hart.
type HartContext struct {
	ID   int
	Regs [32]uint64
	PC   uint64
	Mode Mode

	CSR CSRFile
	PMP pmp.Table

	// protection table version last applied to the real PMP
	policyVersion uint64
}

// String returns a one line summary of the context.
func (ctx *HartContext) String() string {
	return fmt.Sprintf("hart:%d mode:%s pc:%#.8x ra:%#.8x sp:%#.8x",
		ctx.ID, ctx.Mode, ctx.PC, ctx.Regs[RegRA], ctx.Regs[RegSP])
}

// newHartContext returns a boot-state context: the firmware entry point in
// virtual machine mode, with the boot hart id in a0 and the device tree
// pointer in a1, matching the RISC-V boot convention.
func newHartContext(id int, entry uint64, dtb uint64) *HartContext {
	ctx := &HartContext{
		ID:   id,
		PC:   entry,
		Mode: ModeM,
	}

	ctx.CSR.Misa = misaValue
	ctx.CSR.Mstatus = mstatusFixed
	ctx.Regs[RegA0] = uint64(id)
	ctx.Regs[RegA1] = dtb

	return ctx
}
