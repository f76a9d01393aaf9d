// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package monitor

import (
	"github.com/vfmon/vfmon/mem"
	"github.com/vfmon/vfmon/policy"
)

// emulateMRET restores the target privilege, program counter and status
// fields recorded in the virtual mstatus. Only virtual machine mode may
// execute mret, and a return target the active policy forbids to execute
// is rejected with a virtual exception instead of being honored: there is
// no silent escalation path.
func (m *Monitor) emulateMRET(ctx *HartContext, raw uint64) error {
	if ctx.Mode != ModeM {
		m.inject(ctx, CauseIllegalInstruction, raw)
		return nil
	}

	status := ctx.CSR.Mstatus
	target := Mode((status & mstatusMPP) >> mstatusMPPShift)

	// MPP is WARL-normalized on write, anything else is inconsistent
	// guest state
	if target != ModeU && target != ModeS && target != ModeM {
		m.inject(ctx, CauseIllegalInstruction, raw)
		return nil
	}

	if target != ModeM {
		d := m.Policy.AuthorizeMemoryAccess(ctx.ID, target.Owner(), ctx.CSR.Mepc, 4, mem.PermX)

		if d.Action == policy.Deny {
			m.inject(ctx, CauseFetchAccessFault, ctx.CSR.Mepc)
			return nil
		}
	}

	// MIE <- MPIE, MPIE <- 1, MPP <- U
	status &^= uint64(mstatusMIE | mstatusMPP)

	if status&mstatusMPIE != 0 {
		status |= mstatusMIE
	}

	status |= mstatusMPIE

	// leaving machine mode clears MPRV
	if target != ModeM {
		status &^= uint64(mstatusMPRV)
	}

	ctx.CSR.Mstatus = status
	ctx.PC = ctx.CSR.Mepc

	prev := ctx.Mode
	ctx.Mode = target

	if prev != target {
		m.switchView(ctx)
	}

	return nil
}

// emulateSRET performs the supervisor return using the sstatus view, used
// by the firmware to enter a user mode payload and by a virtual supervisor
// payload itself.
func (m *Monitor) emulateSRET(ctx *HartContext, raw uint64) error {
	if ctx.Mode == ModeU {
		m.inject(ctx, CauseIllegalInstruction, raw)
		return nil
	}

	// mstatus.TSR traps sret in virtual S
	if ctx.Mode == ModeS && ctx.CSR.Mstatus&mstatusTSR != 0 {
		m.inject(ctx, CauseIllegalInstruction, raw)
		return nil
	}

	status := ctx.CSR.Mstatus
	target := ModeU

	if status&mstatusSPP != 0 {
		target = ModeS
	}

	// SIE <- SPIE, SPIE <- 1, SPP <- U
	status &^= uint64(mstatusSIE | mstatusSPP)

	if status&mstatusSPIE != 0 {
		status |= mstatusSIE
	}

	status |= mstatusSPIE
	status &^= uint64(mstatusMPRV)

	ctx.CSR.Mstatus = status
	ctx.PC = ctx.CSR.Sepc

	prev := ctx.Mode
	ctx.Mode = target

	if prev == ModeM {
		m.switchView(ctx)
	}

	return nil
}
