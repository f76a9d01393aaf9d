// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package decoder implements pure decoding of the RV64 instruction subset
// the monitor must emulate: CSR instructions, privilege transitions, fences
// and the load/store forms required for MMIO redirection.
//
// Decoding has no side effects, an unsupported or malformed encoding is
// reported as an error and never interpreted loosely.
package decoder

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned for well-formed instructions outside of the
// emulated subset.
var ErrUnsupported = errors.New("unsupported instruction")

// Op identifies the class of a decoded instruction.
type Op int

const (
	OpInvalid Op = iota

	// Zicsr
	OpCSRRW
	OpCSRRS
	OpCSRRC
	OpCSRRWI
	OpCSRRSI
	OpCSRRCI

	// privileged
	OpMRET
	OpSRET
	OpWFI
	OpECALL
	OpEBREAK
	OpSFenceVMA

	// fences
	OpFence
	OpFenceI

	// loads/stores (MMIO emulation)
	OpLoad
	OpStore
)

// String returns the mnemonic for the instruction class.
func (op Op) String() string {
	switch op {
	case OpCSRRW:
		return "csrrw"
	case OpCSRRS:
		return "csrrs"
	case OpCSRRC:
		return "csrrc"
	case OpCSRRWI:
		return "csrrwi"
	case OpCSRRSI:
		return "csrrsi"
	case OpCSRRCI:
		return "csrrci"
	case OpMRET:
		return "mret"
	case OpSRET:
		return "sret"
	case OpWFI:
		return "wfi"
	case OpECALL:
		return "ecall"
	case OpEBREAK:
		return "ebreak"
	case OpSFenceVMA:
		return "sfence.vma"
	case OpFence:
		return "fence"
	case OpFenceI:
		return "fence.i"
	case OpLoad:
		return "load"
	case OpStore:
		return "store"
	default:
		return "invalid"
	}
}

// Instr represents a decoded instruction.
type Instr struct {
	Op  Op
	Rd  int
	Rs1 int
	Rs2 int

	// CSR is the CSR index of Zicsr instructions.
	CSR uint16

	// Uimm is the zero-extended immediate of CSR immediate forms.
	Uimm uint64

	// Imm is the sign-extended immediate of loads and stores.
	Imm int64

	// Width is the access size in bytes of loads and stores.
	Width int

	// Unsigned marks zero-extending loads.
	Unsigned bool
}

// String returns a compact representation of the decoded instruction.
func (i Instr) String() string {
	switch i.Op {
	case OpCSRRW, OpCSRRS, OpCSRRC:
		return fmt.Sprintf("%s x%d, %#x, x%d", i.Op, i.Rd, i.CSR, i.Rs1)
	case OpCSRRWI, OpCSRRSI, OpCSRRCI:
		return fmt.Sprintf("%s x%d, %#x, %d", i.Op, i.Rd, i.CSR, i.Uimm)
	case OpLoad:
		return fmt.Sprintf("load%d x%d, %d(x%d)", i.Width*8, i.Rd, i.Imm, i.Rs1)
	case OpStore:
		return fmt.Sprintf("store%d x%d, %d(x%d)", i.Width*8, i.Rs2, i.Imm, i.Rs1)
	default:
		return i.Op.String()
	}
}

const (
	opcodeSystem  = 0x73
	opcodeLoad    = 0x03
	opcodeStore   = 0x23
	opcodeMiscMem = 0x0f
)

// Decode decodes a single 32-bit instruction word.
func Decode(raw uint32) (instr Instr, err error) {
	if raw&0x3 != 0x3 {
		// compressed encodings are not emulated
		return instr, fmt.Errorf("%w: %#x", ErrUnsupported, raw)
	}

	opcode := raw & 0x7f
	funct3 := (raw >> 12) & 0x7

	instr.Rd = int((raw >> 7) & 0x1f)
	instr.Rs1 = int((raw >> 15) & 0x1f)

	switch opcode {
	case opcodeSystem:
		return decodeSystem(raw, funct3, instr)
	case opcodeLoad:
		return decodeLoad(raw, funct3, instr)
	case opcodeStore:
		return decodeStore(raw, funct3, instr)
	case opcodeMiscMem:
		switch funct3 {
		case 0:
			instr.Op = OpFence
		case 1:
			instr.Op = OpFenceI
		default:
			return instr, fmt.Errorf("%w: misc-mem funct3=%d", ErrUnsupported, funct3)
		}

		return instr, nil
	default:
		return instr, fmt.Errorf("%w: opcode %#x", ErrUnsupported, opcode)
	}
}

func decodeSystem(raw uint32, funct3 uint32, instr Instr) (Instr, error) {
	if funct3 == 0 {
		funct7 := (raw >> 25) & 0x7f

		if funct7 == 0x09 {
			// rd must be x0
			if instr.Rd != 0 {
				return instr, fmt.Errorf("%w: malformed sfence.vma", ErrUnsupported)
			}

			instr.Op = OpSFenceVMA
			return instr, nil
		}

		if instr.Rd != 0 || instr.Rs1 != 0 {
			return instr, fmt.Errorf("%w: malformed system encoding %#x", ErrUnsupported, raw)
		}

		switch raw >> 20 {
		case 0x000:
			instr.Op = OpECALL
		case 0x001:
			instr.Op = OpEBREAK
		case 0x102:
			instr.Op = OpSRET
		case 0x302:
			instr.Op = OpMRET
		case 0x105:
			instr.Op = OpWFI
		default:
			return instr, fmt.Errorf("%w: system funct12=%#x", ErrUnsupported, raw>>20)
		}

		return instr, nil
	}

	instr.CSR = uint16(raw >> 20)

	switch funct3 {
	case 1:
		instr.Op = OpCSRRW
	case 2:
		instr.Op = OpCSRRS
	case 3:
		instr.Op = OpCSRRC
	case 5:
		instr.Op = OpCSRRWI
	case 6:
		instr.Op = OpCSRRSI
	case 7:
		instr.Op = OpCSRRCI
	default:
		return instr, fmt.Errorf("%w: system funct3=%d", ErrUnsupported, funct3)
	}

	if funct3 >= 5 {
		// immediate forms reuse the rs1 field as a zero-extended immediate
		instr.Uimm = uint64(instr.Rs1)
		instr.Rs1 = 0
	}

	return instr, nil
}

func decodeLoad(raw uint32, funct3 uint32, instr Instr) (Instr, error) {
	instr.Op = OpLoad
	instr.Imm = immI(raw)

	switch funct3 {
	case 0: // lb
		instr.Width = 1
	case 1: // lh
		instr.Width = 2
	case 2: // lw
		instr.Width = 4
	case 3: // ld
		instr.Width = 8
	case 4: // lbu
		instr.Width = 1
		instr.Unsigned = true
	case 5: // lhu
		instr.Width = 2
		instr.Unsigned = true
	case 6: // lwu
		instr.Width = 4
		instr.Unsigned = true
	default:
		return instr, fmt.Errorf("%w: load funct3=%d", ErrUnsupported, funct3)
	}

	return instr, nil
}

func decodeStore(raw uint32, funct3 uint32, instr Instr) (Instr, error) {
	instr.Op = OpStore
	instr.Rs2 = int((raw >> 20) & 0x1f)
	instr.Imm = immS(raw)

	switch funct3 {
	case 0: // sb
		instr.Width = 1
	case 1: // sh
		instr.Width = 2
	case 2: // sw
		instr.Width = 4
	case 3: // sd
		instr.Width = 8
	default:
		return instr, fmt.Errorf("%w: store funct3=%d", ErrUnsupported, funct3)
	}

	return instr, nil
}

// immI returns the sign-extended I-type immediate.
func immI(raw uint32) int64 {
	return int64(int32(raw)) >> 20
}

// immS returns the sign-extended S-type immediate.
func immS(raw uint32) int64 {
	imm := (raw>>7)&0x1f | (raw>>25)<<5
	return int64(int32(imm<<20)) >> 20
}
