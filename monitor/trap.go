// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package monitor

import (
	"encoding/binary"
	"errors"
	"log"

	"github.com/vfmon/vfmon/decoder"
	"github.com/vfmon/vfmon/mem"
	"github.com/vfmon/vfmon/policy"
)

// Exception cause codes.
const (
	CauseMisalignedFetch    = 0
	CauseFetchAccessFault   = 1
	CauseIllegalInstruction = 2
	CauseBreakpoint         = 3
	CauseMisalignedLoad     = 4
	CauseLoadAccessFault    = 5
	CauseMisalignedStore    = 6
	CauseStoreAccessFault   = 7
	CauseEcallFromU         = 8
	CauseEcallFromS         = 9
	CauseEcallFromM         = 11
	CauseFetchPageFault     = 12
	CauseLoadPageFault      = 13
	CauseStorePageFault     = 15
)

// Interrupt cause codes.
const (
	IntSupervisorSoft  = 1
	IntMachineSoft     = 3
	IntSupervisorTimer = 5
	IntMachineTimer    = 7
	IntSupervisorExt   = 9
	IntMachineExt      = 11
)

// CauseInterrupt is the interrupt flag of mcause.
const CauseInterrupt = 1 << 63

// Trap is the captured cause of a suspended guest, handed to the
// dispatcher together with the hart's context.
type Trap struct {
	MCause uint64
	MTval  uint64
}

// IsInterrupt returns whether the trap is an asynchronous interrupt.
func (t Trap) IsInterrupt() bool {
	return t.MCause&CauseInterrupt != 0
}

// Cause returns the cause code without the interrupt flag.
func (t Trap) Cause() uint64 {
	return t.MCause &^ uint64(CauseInterrupt)
}

// Handle is the single entry point for every trap taken while firmware or
// payload code runs. It classifies the cause, routes to exactly one
// handler, commits the outcome to the context and returns. Execution
// resumes at ctx.PC, the platform glue turns the return into the actual
// privilege switch.
//
// A nil return resumes the guest. A ShutdownError propagates the guest's
// exit request, a FatalError indicates the hart was halted.
func (m *Monitor) Handle(ctx *HartContext, trap Trap) (err error) {
	m.refreshProtection(ctx)
	m.syncPending(ctx)

	if trap.IsInterrupt() {
		err = m.handleInterrupt(ctx, trap)
	} else {
		err = m.handleException(ctx, trap)
	}

	if err != nil {
		var fatal *FatalError

		if errors.As(err, &fatal) {
			log.Printf("SM %v", fatal)
			m.Platform.Halt(ctx.ID)
		}

		return
	}

	// an interrupt raised before this point is guaranteed visible here
	m.deliverPending(ctx)

	return
}

func (m *Monitor) handleInterrupt(ctx *HartContext, trap Trap) error {
	switch trap.Cause() {
	case IntMachineSoft, IntMachineTimer, IntMachineExt:
		// pending state was synchronized at trap entry, delivery
		// happens on the common path
		return nil
	default:
		return &FatalError{Hart: ctx.ID, Cause: trap.MCause, PC: ctx.PC}
	}
}

func (m *Monitor) handleException(ctx *HartContext, trap Trap) error {
	switch trap.Cause() {
	case CauseIllegalInstruction:
		return m.handleIllegal(ctx, trap)
	case CauseEcallFromU, CauseEcallFromS, CauseEcallFromM:
		return m.handleEcall(ctx)
	case CauseMisalignedLoad, CauseLoadAccessFault,
		CauseMisalignedStore, CauseStoreAccessFault:
		return m.handleMemFault(ctx, trap)
	case CauseMisalignedFetch, CauseFetchAccessFault, CauseBreakpoint,
		CauseFetchPageFault, CauseLoadPageFault, CauseStorePageFault:
		// guest's own fault, reflected per delegation rules
		m.inject(ctx, trap.Cause(), trap.MTval)
		return nil
	default:
		return &FatalError{Hart: ctx.ID, Cause: trap.MCause, PC: ctx.PC}
	}
}

// handleIllegal emulates the privileged instruction responsible for an
// illegal-instruction trap. A decode failure or an operation the guest's
// virtual privilege does not permit is reflected as a virtual
// illegal-instruction exception.
func (m *Monitor) handleIllegal(ctx *HartContext, trap Trap) error {
	raw := uint32(trap.MTval)

	if raw == 0 {
		var err error

		if raw, err = m.fetchInstruction(ctx); err != nil {
			return &FatalError{Hart: ctx.ID, Cause: trap.MCause, PC: ctx.PC}
		}
	}

	instr, err := decoder.Decode(raw)

	if err != nil {
		m.inject(ctx, CauseIllegalInstruction, uint64(raw))
		return nil
	}

	switch instr.Op {
	case decoder.OpCSRRW, decoder.OpCSRRS, decoder.OpCSRRC,
		decoder.OpCSRRWI, decoder.OpCSRRSI, decoder.OpCSRRCI:
		return m.emulateCSROp(ctx, instr, uint64(raw))
	case decoder.OpMRET:
		return m.emulateMRET(ctx, uint64(raw))
	case decoder.OpSRET:
		return m.emulateSRET(ctx, uint64(raw))
	case decoder.OpWFI:
		return m.emulateWFI(ctx)
	case decoder.OpFence, decoder.OpFenceI, decoder.OpSFenceVMA:
		ctx.PC += 4
		return nil
	case decoder.OpLoad, decoder.OpStore:
		return m.emulateMMIO(ctx, instr)
	default:
		m.inject(ctx, CauseIllegalInstruction, uint64(raw))
		return nil
	}
}

// emulateCSROp applies one Zicsr instruction against the virtual CSR file.
// Reads are skipped for csrrw with rd=x0, writes for csrrs/csrrc with
// rs1=x0 and for the immediate forms with a zero immediate, per the
// architectural side effect rules. Whether a write occurs depends on the
// source register index, never on the value it holds.
func (m *Monitor) emulateCSROp(ctx *HartContext, instr decoder.Instr, raw uint64) error {
	var old uint64
	var err error

	wantRead := !(instr.Op == decoder.OpCSRRW || instr.Op == decoder.OpCSRRWI) || instr.Rd != 0

	if wantRead {
		if old, err = m.readCSR(ctx, instr.CSR); err != nil {
			m.inject(ctx, CauseIllegalInstruction, raw)
			return nil
		}
	}

	src := ctx.Regs[instr.Rs1]

	if instr.Op >= decoder.OpCSRRWI {
		src = instr.Uimm
	}

	var next uint64
	write := true

	switch instr.Op {
	case decoder.OpCSRRW, decoder.OpCSRRWI:
		next = src
	case decoder.OpCSRRS:
		next = old | src
		write = instr.Rs1 != 0
	case decoder.OpCSRRC:
		next = old &^ src
		write = instr.Rs1 != 0
	case decoder.OpCSRRSI:
		next = old | src
		write = instr.Uimm != 0
	case decoder.OpCSRRCI:
		next = old &^ src
		write = instr.Uimm != 0
	}

	if write {
		if d := m.Policy.AuthorizeCSRWrite(ctx.ID, ctx.Mode.Owner(), instr.CSR, next); d.Action == policy.Deny {
			m.inject(ctx, CauseIllegalInstruction, raw)
			return nil
		} else if d.Action == policy.Emulate {
			next = d.Value
		}

		if err = m.writeCSR(ctx, instr.CSR, next); err != nil {
			m.inject(ctx, CauseIllegalInstruction, raw)
			return nil
		}
	}

	if instr.Rd != 0 {
		ctx.Regs[instr.Rd] = old
	}

	ctx.PC += 4

	return nil
}

// emulateWFI completes immediately when an interrupt is already pending,
// otherwise it parks the hart on the platform until one arrives.
func (m *Monitor) emulateWFI(ctx *HartContext) error {
	m.syncPending(ctx)

	if ctx.CSR.Mip&ctx.CSR.Mie == 0 {
		m.Platform.WaitForInterrupt(ctx.ID)
		m.syncPending(ctx)
	}

	ctx.PC += 4

	return nil
}

// handleMemFault handles a load/store that faulted on real hardware:
// accesses to the virtual CLINT are redirected to the controller, anything
// else is checked against policy and reflected to the guest as the most
// specific virtual exception.
func (m *Monitor) handleMemFault(ctx *HartContext, trap Trap) error {
	raw, err := m.fetchInstruction(ctx)

	if err != nil {
		return &FatalError{Hart: ctx.ID, Cause: trap.MCause, PC: ctx.PC}
	}

	instr, err := decoder.Decode(raw)

	if err != nil || (instr.Op != decoder.OpLoad && instr.Op != decoder.OpStore) {
		m.inject(ctx, trap.Cause(), trap.MTval)
		return nil
	}

	addr := ctx.Regs[instr.Rs1] + uint64(instr.Imm)

	if m.CLINT.Contains(addr) {
		return m.emulateCLINT(ctx, instr, addr, trap)
	}

	// the access faulted for real: either the policy denies it, or the
	// hardware guard entries did. Both reflect to the guest unless the
	// policy substitutes a value.
	access := mem.PermR

	if instr.Op == decoder.OpStore {
		access = mem.PermW
	}

	d := m.Policy.AuthorizeMemoryAccess(ctx.ID, ctx.Mode.Owner(), addr, uint64(instr.Width), access)

	if d.Action == policy.Emulate && instr.Op == decoder.OpLoad {
		ctx.Regs[instr.Rd] = loadValue(d.Value, instr)
		ctx.PC += 4
		return nil
	}

	m.inject(ctx, trap.Cause(), trap.MTval)

	return nil
}

// emulateCLINT redirects a trapped access to the virtual interrupt
// controller.
func (m *Monitor) emulateCLINT(ctx *HartContext, instr decoder.Instr, addr uint64, trap Trap) error {
	if instr.Op == decoder.OpLoad {
		val, err := m.CLINT.Load(addr, instr.Width)

		if err != nil {
			m.inject(ctx, CauseLoadAccessFault, addr)
			return nil
		}

		if instr.Rd != 0 {
			ctx.Regs[instr.Rd] = loadValue(val, instr)
		}
	} else {
		if err := m.CLINT.Store(addr, instr.Width, ctx.Regs[instr.Rs2]); err != nil {
			m.inject(ctx, CauseStoreAccessFault, addr)
			return nil
		}
	}

	m.syncPending(ctx)
	ctx.PC += 4

	return nil
}

// emulateMMIO handles a load/store that arrived through the illegal
// instruction path (some cores report virtual device accesses this way).
func (m *Monitor) emulateMMIO(ctx *HartContext, instr decoder.Instr) error {
	addr := ctx.Regs[instr.Rs1] + uint64(instr.Imm)

	if !m.CLINT.Contains(addr) {
		m.inject(ctx, CauseIllegalInstruction, 0)
		return nil
	}

	return m.emulateCLINT(ctx, instr, addr, Trap{})
}

// loadValue truncates and extends a loaded value per the access width.
func loadValue(val uint64, instr decoder.Instr) uint64 {
	switch instr.Width {
	case 1:
		if instr.Unsigned {
			return uint64(uint8(val))
		}
		return uint64(int64(int8(val)))
	case 2:
		if instr.Unsigned {
			return uint64(uint16(val))
		}
		return uint64(int64(int16(val)))
	case 4:
		if instr.Unsigned {
			return uint64(uint32(val))
		}
		return uint64(int64(int32(val)))
	default:
		return val
	}
}

// fetchInstruction reads the faulting instruction word at the guest PC.
func (m *Monitor) fetchInstruction(ctx *HartContext) (raw uint32, err error) {
	var buf [4]byte

	if err = m.Platform.ReadMemory(ctx.PC, buf[:]); err != nil {
		return
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

// syncPending mirrors the virtual CLINT state into the mip bits the CLINT
// owns.
func (m *Monitor) syncPending(ctx *HartContext) {
	if m.CLINT.SoftPending(ctx.ID) {
		ctx.CSR.Mip |= mipMSIP
	} else {
		ctx.CSR.Mip &^= uint64(mipMSIP)
	}

	if m.CLINT.TimerPending(ctx.ID) {
		ctx.CSR.Mip |= mipMTIP
	} else {
		ctx.CSR.Mip &^= uint64(mipMTIP)
	}
}
