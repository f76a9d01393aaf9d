// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

import (
	"encoding/binary"

	"github.com/vfmon/vfmon/mem"
	"github.com/vfmon/vfmon/monitor"
)

// RV64I base opcodes.
const (
	opLUI    = 0x37
	opAUIPC  = 0x17
	opJAL    = 0x6f
	opJALR   = 0x67
	opBranch = 0x63
	opLoad   = 0x03
	opStore  = 0x23
	opImm    = 0x13
	opImm32  = 0x1b
	opReg    = 0x33
	opReg32  = 0x3b
	opFence  = 0x0f
	opSystem = 0x73
)

// step retires one guest instruction. A privileged instruction, an
// environment call or a protection violation does not execute, it returns
// the trap the hardware would have taken instead.
func (m *Machine) step(h *simHart, ctx *monitor.HartContext) (t monitor.Trap, trapped bool) {
	pc := ctx.PC

	if pc%4 != 0 {
		return monitor.Trap{MCause: monitor.CauseMisalignedFetch, MTval: pc}, true
	}

	if !h.allowed(pc, 4, mem.PermX) {
		return monitor.Trap{MCause: monitor.CauseFetchAccessFault, MTval: pc}, true
	}

	raw, ok := m.load(pc, 4)

	if !ok {
		return monitor.Trap{MCause: monitor.CauseFetchAccessFault, MTval: pc}, true
	}

	instr := uint32(raw)

	// compressed instructions are not part of the guest ABI
	if instr&0x3 != 0x3 {
		return monitor.Trap{MCause: monitor.CauseIllegalInstruction, MTval: uint64(instr)}, true
	}

	var (
		opcode = instr & 0x7f
		rd     = int(instr >> 7 & 0x1f)
		funct3 = instr >> 12 & 0x7
		rs1    = int(instr >> 15 & 0x1f)
		rs2    = int(instr >> 20 & 0x1f)
		funct7 = instr >> 25
	)

	a := ctx.Regs[rs1]
	b := ctx.Regs[rs2]
	next := pc + 4

	switch opcode {
	case opLUI:
		setReg(ctx, rd, uint64(int64(int32(instr&0xfffff000))))
	case opAUIPC:
		setReg(ctx, rd, pc+uint64(int64(int32(instr&0xfffff000))))
	case opJAL:
		setReg(ctx, rd, pc+4)
		next = pc + uint64(immJ(instr))
	case opJALR:
		setReg(ctx, rd, pc+4)
		next = (a + uint64(immI(instr))) &^ 1
	case opBranch:
		taken := false

		switch funct3 {
		case 0:
			taken = a == b
		case 1:
			taken = a != b
		case 4:
			taken = int64(a) < int64(b)
		case 5:
			taken = int64(a) >= int64(b)
		case 6:
			taken = a < b
		case 7:
			taken = a >= b
		default:
			return monitor.Trap{MCause: monitor.CauseIllegalInstruction, MTval: uint64(instr)}, true
		}

		if taken {
			next = pc + uint64(immB(instr))
		}
	case opLoad:
		addr := a + uint64(immI(instr))
		size := uint64(1) << (funct3 & 0x3)

		if !h.allowed(addr, size, mem.PermR) {
			return monitor.Trap{MCause: monitor.CauseLoadAccessFault, MTval: addr}, true
		}

		val, ok := m.load(addr, int(size))

		if !ok {
			return monitor.Trap{MCause: monitor.CauseLoadAccessFault, MTval: addr}, true
		}

		switch funct3 {
		case 0:
			val = uint64(int64(int8(val)))
		case 1:
			val = uint64(int64(int16(val)))
		case 2:
			val = uint64(int64(int32(val)))
		case 3, 4, 5, 6:
			// LD and the unsigned widths load as-is
		default:
			return monitor.Trap{MCause: monitor.CauseIllegalInstruction, MTval: uint64(instr)}, true
		}

		setReg(ctx, rd, val)
	case opStore:
		addr := a + uint64(immS(instr))
		size := uint64(1) << funct3

		if funct3 > 3 {
			return monitor.Trap{MCause: monitor.CauseIllegalInstruction, MTval: uint64(instr)}, true
		}

		if !h.allowed(addr, size, mem.PermW) {
			return monitor.Trap{MCause: monitor.CauseStoreAccessFault, MTval: addr}, true
		}

		if !m.store(addr, int(size), b) {
			return monitor.Trap{MCause: monitor.CauseStoreAccessFault, MTval: addr}, true
		}
	case opImm:
		imm := uint64(immI(instr))

		switch funct3 {
		case 0:
			setReg(ctx, rd, a+imm)
		case 1:
			setReg(ctx, rd, a<<(instr>>20&0x3f))
		case 2:
			setReg(ctx, rd, boolReg(int64(a) < int64(imm)))
		case 3:
			setReg(ctx, rd, boolReg(a < imm))
		case 4:
			setReg(ctx, rd, a^imm)
		case 5:
			if funct7&0x20 != 0 {
				setReg(ctx, rd, uint64(int64(a)>>(instr>>20&0x3f)))
			} else {
				setReg(ctx, rd, a>>(instr>>20&0x3f))
			}
		case 6:
			setReg(ctx, rd, a|imm)
		case 7:
			setReg(ctx, rd, a&imm)
		}
	case opImm32:
		imm := immI(instr)

		switch funct3 {
		case 0:
			setReg(ctx, rd, uint64(int64(int32(a)+int32(imm))))
		case 1:
			setReg(ctx, rd, uint64(int64(int32(a)<<(instr>>20&0x1f))))
		case 5:
			if funct7&0x20 != 0 {
				setReg(ctx, rd, uint64(int64(int32(a)>>(instr>>20&0x1f))))
			} else {
				setReg(ctx, rd, uint64(int64(int32(uint32(a)>>(instr>>20&0x1f)))))
			}
		default:
			return monitor.Trap{MCause: monitor.CauseIllegalInstruction, MTval: uint64(instr)}, true
		}
	case opReg:
		if funct7 != 0 && funct7 != 0x20 {
			return monitor.Trap{MCause: monitor.CauseIllegalInstruction, MTval: uint64(instr)}, true
		}

		switch funct3 {
		case 0:
			if funct7 == 0x20 {
				setReg(ctx, rd, a-b)
			} else {
				setReg(ctx, rd, a+b)
			}
		case 1:
			setReg(ctx, rd, a<<(b&0x3f))
		case 2:
			setReg(ctx, rd, boolReg(int64(a) < int64(b)))
		case 3:
			setReg(ctx, rd, boolReg(a < b))
		case 4:
			setReg(ctx, rd, a^b)
		case 5:
			if funct7 == 0x20 {
				setReg(ctx, rd, uint64(int64(a)>>(b&0x3f)))
			} else {
				setReg(ctx, rd, a>>(b&0x3f))
			}
		case 6:
			setReg(ctx, rd, a|b)
		case 7:
			setReg(ctx, rd, a&b)
		}
	case opReg32:
		if funct7 != 0 && funct7 != 0x20 {
			return monitor.Trap{MCause: monitor.CauseIllegalInstruction, MTval: uint64(instr)}, true
		}

		switch funct3 {
		case 0:
			if funct7 == 0x20 {
				setReg(ctx, rd, uint64(int64(int32(a)-int32(b))))
			} else {
				setReg(ctx, rd, uint64(int64(int32(a)+int32(b))))
			}
		case 1:
			setReg(ctx, rd, uint64(int64(int32(a)<<(b&0x1f))))
		case 5:
			if funct7 == 0x20 {
				setReg(ctx, rd, uint64(int64(int32(a)>>(b&0x1f))))
			} else {
				setReg(ctx, rd, uint64(int64(int32(uint32(a)>>(b&0x1f)))))
			}
		default:
			return monitor.Trap{MCause: monitor.CauseIllegalInstruction, MTval: uint64(instr)}, true
		}
	case opFence:
		// fences order nothing the interpreter reorders
	case opSystem:
		if funct3 == 0 {
			switch instr >> 20 {
			case 0:
				return monitor.Trap{MCause: monitor.CauseEcallFromU}, true
			case 1:
				return monitor.Trap{MCause: monitor.CauseBreakpoint, MTval: pc}, true
			}
		}

		// CSR accesses, mret, sret, wfi and sfence.vma all trap from
		// effective user privilege and are emulated by the monitor
		return monitor.Trap{MCause: monitor.CauseIllegalInstruction, MTval: uint64(instr)}, true
	default:
		return monitor.Trap{MCause: monitor.CauseIllegalInstruction, MTval: uint64(instr)}, true
	}

	ctx.PC = next

	return monitor.Trap{}, false
}

func setReg(ctx *monitor.HartContext, rd int, val uint64) {
	if rd != 0 {
		ctx.Regs[rd] = val
	}
}

func boolReg(b bool) uint64 {
	if b {
		return 1
	}

	return 0
}

// immI decodes the sign extended I-type immediate.
func immI(instr uint32) int64 {
	return int64(int32(instr)) >> 20
}

// immS decodes the sign extended S-type immediate.
func immS(instr uint32) int64 {
	return int64(int32(instr&0xfe000000))>>20 | int64(instr>>7&0x1f)
}

// immB decodes the sign extended B-type immediate.
func immB(instr uint32) int64 {
	return int64(int32(instr&0x80000000))>>19 |
		int64(instr>>7&0x1)<<11 |
		int64(instr>>25&0x3f)<<5 |
		int64(instr>>8&0xf)<<1
}

// immJ decodes the sign extended J-type immediate.
func immJ(instr uint32) int64 {
	return int64(int32(instr&0x80000000))>>11 |
		int64(instr>>12&0xff)<<12 |
		int64(instr>>20&0x1)<<11 |
		int64(instr>>21&0x3ff)<<1
}

// load reads size bytes of guest memory, little endian.
func (m *Machine) load(addr uint64, size int) (val uint64, ok bool) {
	if addr < m.base || addr+uint64(size) > m.base+uint64(len(m.ram)) {
		return 0, false
	}

	buf := m.ram[addr-m.base:]

	switch size {
	case 1:
		return uint64(buf[0]), true
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf)), true
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf)), true
	case 8:
		return binary.LittleEndian.Uint64(buf), true
	default:
		return 0, false
	}
}

// store writes size bytes of guest memory, little endian.
func (m *Machine) store(addr uint64, size int, val uint64) bool {
	if addr < m.base || addr+uint64(size) > m.base+uint64(len(m.ram)) {
		return false
	}

	buf := m.ram[addr-m.base:]

	switch size {
	case 1:
		buf[0] = byte(val)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(val))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(val))
	case 8:
		binary.LittleEndian.PutUint64(buf, val)
	default:
		return false
	}

	return true
}
