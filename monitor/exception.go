// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package monitor

import (
	"log"
)

// inject synthesizes a virtual exception, delivering it to the privilege
// level the virtual delegation registers dictate: the firmware by default,
// the payload when the trap originates below virtual machine mode and the
// firmware delegated the cause. The guest cannot distinguish the synthesized
// exception from one raised by hardware.
func (m *Monitor) inject(ctx *HartContext, cause uint64, tval uint64) {
	if ctx.Mode != ModeM && ctx.CSR.Medeleg&(1<<cause) != 0 {
		m.deliverToPayload(ctx, cause, tval)
		return
	}

	m.deliverToFirmware(ctx, cause, tval)
}

// injectInterrupt synthesizes a virtual interrupt per the same routing,
// using mideleg for delegation.
func (m *Monitor) injectInterrupt(ctx *HartContext, cause uint64) {
	if ctx.Mode != ModeM && ctx.CSR.Mideleg&(1<<cause) != 0 {
		m.deliverToPayload(ctx, cause|CauseInterrupt, 0)
		return
	}

	m.deliverToFirmware(ctx, cause|CauseInterrupt, 0)
}

// deliverToFirmware emulates exception delivery into the virtual machine
// level: stack the interrupt enable and privilege in mstatus, record the
// cause, and redirect execution to the firmware trap vector.
func (m *Monitor) deliverToFirmware(ctx *HartContext, cause uint64, tval uint64) {
	prev := ctx.Mode

	ctx.CSR.Mepc = ctx.PC
	ctx.CSR.Mcause = cause
	ctx.CSR.Mtval = tval

	status := ctx.CSR.Mstatus

	// MPIE <- MIE, MIE <- 0, MPP <- previous mode
	status &^= uint64(mstatusMPIE | mstatusMIE | mstatusMPP)

	if ctx.CSR.Mstatus&mstatusMIE != 0 {
		status |= mstatusMPIE
	}

	status |= uint64(prev) << mstatusMPPShift
	ctx.CSR.Mstatus = status

	ctx.Mode = ModeM
	ctx.PC = vectorTarget(ctx.CSR.Mtvec, cause)

	if prev != ModeM {
		m.switchView(ctx)
	}
}

// deliverToPayload emulates delegated delivery into the virtual supervisor
// level.
func (m *Monitor) deliverToPayload(ctx *HartContext, cause uint64, tval uint64) {
	prev := ctx.Mode

	ctx.CSR.Sepc = ctx.PC
	ctx.CSR.Scause = cause
	ctx.CSR.Stval = tval

	status := ctx.CSR.Mstatus

	// SPIE <- SIE, SIE <- 0, SPP <- previous mode
	status &^= uint64(mstatusSPIE | mstatusSIE | mstatusSPP)

	if ctx.CSR.Mstatus&mstatusSIE != 0 {
		status |= mstatusSPIE
	}

	if prev == ModeS {
		status |= mstatusSPP
	}

	ctx.CSR.Mstatus = status

	ctx.Mode = ModeS
	ctx.PC = vectorTarget(ctx.CSR.Stvec, cause)
}

// vectorTarget computes the trap vector entry address: direct mode jumps to
// the base for every cause, vectored mode offsets interrupts by cause.
func vectorTarget(tvec uint64, cause uint64) uint64 {
	base := tvec &^ uint64(0x3)

	if tvec&0x3 == 1 && cause&CauseInterrupt != 0 {
		return base + 4*(cause&^uint64(CauseInterrupt))
	}

	return base
}

// interruptPriority is the architecture-mandated delivery order among
// simultaneously pending interrupt lines, highest first (privileged
// specification v1.12, section 3.1.9).
var interruptPriority = [...]uint64{
	IntMachineExt,
	IntMachineSoft,
	IntMachineTimer,
	IntSupervisorExt,
	IntSupervisorSoft,
	IntSupervisorTimer,
}

// deliverPending delivers the highest priority pending-and-enabled virtual
// interrupt, if the virtual privilege state makes the hart trap-eligible.
// It runs after every handled trap, making trap boundaries the
// trap-eligible points of the virtualized machine.
func (m *Monitor) deliverPending(ctx *HartContext) {
	pending := ctx.CSR.Mip & ctx.CSR.Mie

	if pending == 0 {
		return
	}

	for _, cause := range interruptPriority {
		if pending&(1<<cause) == 0 {
			continue
		}

		if !m.interruptEligible(ctx, cause) {
			continue
		}

		m.injectInterrupt(ctx, cause)
		return
	}
}

// interruptEligible mirrors the architectural global interrupt enable
// rules: machine level interrupts fire below virtual M unconditionally and
// at virtual M when mstatus.MIE is set; delegated interrupts fire at or
// below virtual S per mstatus.SIE.
func (m *Monitor) interruptEligible(ctx *HartContext, cause uint64) bool {
	delegated := ctx.CSR.Mideleg&(1<<cause) != 0

	if !delegated {
		if ctx.Mode == ModeM {
			return ctx.CSR.Mstatus&mstatusMIE != 0
		}

		return true
	}

	// delegated interrupts are invisible at virtual M
	if ctx.Mode == ModeM {
		return false
	}

	if ctx.Mode == ModeS {
		return ctx.CSR.Mstatus&mstatusSIE != 0
	}

	return true
}

// switchView re-applies the real PMP table when the executing owner
// changes, as the protected set differs between firmware and payload.
func (m *Monitor) switchView(ctx *HartContext) {
	if err := m.applyPMP(ctx); err != nil {
		log.Printf("SM hart %d could not switch protection view, %v", ctx.ID, err)
	}
}
