// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

import (
	"encoding/binary"
	"math"
)

// Instruction encoders for building guest images in tests and tooling.
// Registers are architectural numbers (x0..x31), immediates are checked by
// the caller.

func encR(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encI(opcode, rd, funct3, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encS(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	i := uint32(imm)

	return (i>>5&0x7f)<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (i&0x1f)<<7 | opcode
}

func encB(funct3, rs1, rs2 uint32, imm int32) uint32 {
	i := uint32(imm)

	return (i>>12&0x1)<<31 | (i>>5&0x3f)<<25 | rs2<<20 | rs1<<15 |
		funct3<<12 | (i>>1&0xf)<<8 | (i>>11&0x1)<<7 | opBranch
}

func encJ(rd uint32, imm int32) uint32 {
	i := uint32(imm)

	return (i>>20&0x1)<<31 | (i>>1&0x3ff)<<21 | (i>>11&0x1)<<20 |
		(i>>12&0xff)<<12 | rd<<7 | opJAL
}

func LUI(rd int, imm int32) uint32   { return uint32(imm)<<12 | uint32(rd)<<7 | opLUI }
func AUIPC(rd int, imm int32) uint32 { return uint32(imm)<<12 | uint32(rd)<<7 | opAUIPC }

func ADDI(rd, rs1 int, imm int32) uint32  { return encI(opImm, uint32(rd), 0, uint32(rs1), imm) }
func ADDIW(rd, rs1 int, imm int32) uint32 { return encI(opImm32, uint32(rd), 0, uint32(rs1), imm) }
func ANDI(rd, rs1 int, imm int32) uint32  { return encI(opImm, uint32(rd), 7, uint32(rs1), imm) }
func ORI(rd, rs1 int, imm int32) uint32   { return encI(opImm, uint32(rd), 6, uint32(rs1), imm) }
func XORI(rd, rs1 int, imm int32) uint32  { return encI(opImm, uint32(rd), 4, uint32(rs1), imm) }
func SLLI(rd, rs1, shamt int) uint32      { return encI(opImm, uint32(rd), 1, uint32(rs1), int32(shamt)) }
func SRLI(rd, rs1, shamt int) uint32      { return encI(opImm, uint32(rd), 5, uint32(rs1), int32(shamt)) }

func ADD(rd, rs1, rs2 int) uint32 { return encR(opReg, uint32(rd), 0, uint32(rs1), uint32(rs2), 0) }
func SUB(rd, rs1, rs2 int) uint32 {
	return encR(opReg, uint32(rd), 0, uint32(rs1), uint32(rs2), 0x20)
}
func AND(rd, rs1, rs2 int) uint32 { return encR(opReg, uint32(rd), 7, uint32(rs1), uint32(rs2), 0) }
func OR(rd, rs1, rs2 int) uint32  { return encR(opReg, uint32(rd), 6, uint32(rs1), uint32(rs2), 0) }

func LB(rd, rs1 int, imm int32) uint32  { return encI(opLoad, uint32(rd), 0, uint32(rs1), imm) }
func LW(rd, rs1 int, imm int32) uint32  { return encI(opLoad, uint32(rd), 2, uint32(rs1), imm) }
func LWU(rd, rs1 int, imm int32) uint32 { return encI(opLoad, uint32(rd), 6, uint32(rs1), imm) }
func LD(rd, rs1 int, imm int32) uint32  { return encI(opLoad, uint32(rd), 3, uint32(rs1), imm) }

func SB(rs2, rs1 int, imm int32) uint32 { return encS(opStore, 0, uint32(rs1), uint32(rs2), imm) }
func SW(rs2, rs1 int, imm int32) uint32 { return encS(opStore, 2, uint32(rs1), uint32(rs2), imm) }
func SD(rs2, rs1 int, imm int32) uint32 { return encS(opStore, 3, uint32(rs1), uint32(rs2), imm) }

func BEQ(rs1, rs2 int, imm int32) uint32 { return encB(0, uint32(rs1), uint32(rs2), imm) }
func BNE(rs1, rs2 int, imm int32) uint32 { return encB(1, uint32(rs1), uint32(rs2), imm) }
func BLT(rs1, rs2 int, imm int32) uint32 { return encB(4, uint32(rs1), uint32(rs2), imm) }
func BGE(rs1, rs2 int, imm int32) uint32 { return encB(5, uint32(rs1), uint32(rs2), imm) }

func JAL(rd int, imm int32) uint32       { return encJ(uint32(rd), imm) }
func JALR(rd, rs1 int, imm int32) uint32 { return encI(opJALR, uint32(rd), 0, uint32(rs1), imm) }

// Zicsr encodings, csr is the 12-bit CSR address.
func CSRRW(rd, csr, rs1 int) uint32  { return encI(opSystem, uint32(rd), 1, uint32(rs1), int32(csr)) }
func CSRRS(rd, csr, rs1 int) uint32  { return encI(opSystem, uint32(rd), 2, uint32(rs1), int32(csr)) }
func CSRRC(rd, csr, rs1 int) uint32  { return encI(opSystem, uint32(rd), 3, uint32(rs1), int32(csr)) }
func CSRRWI(rd, csr, imm int) uint32 { return encI(opSystem, uint32(rd), 5, uint32(imm), int32(csr)) }
func CSRRSI(rd, csr, imm int) uint32 { return encI(opSystem, uint32(rd), 6, uint32(imm), int32(csr)) }

func ECALL() uint32  { return encI(opSystem, 0, 0, 0, 0) }
func EBREAK() uint32 { return encI(opSystem, 0, 0, 0, 1) }
func MRET() uint32   { return encI(opSystem, 0, 0, 0, 0x302) }
func SRET() uint32   { return encI(opSystem, 0, 0, 0, 0x102) }
func WFI() uint32    { return encI(opSystem, 0, 0, 0, 0x105) }
func NOP() uint32    { return ADDI(0, 0, 0) }

// Li expands to the shortest lui/addiw/slli/addi sequence materializing a
// 64 bit constant, the way an assembler expands the li pseudo instruction.
func Li(rd int, v uint64) (code []uint32) {
	sv := int64(v)

	if sv >= -2048 && sv < 2048 {
		return []uint32{ADDI(rd, 0, int32(sv))}
	}

	if sv >= math.MinInt32 && sv <= math.MaxInt32 {
		hi := (sv + 0x800) >> 12
		lo := sv - hi<<12

		code = append(code, LUI(rd, int32(hi)))

		if lo != 0 {
			code = append(code, ADDIW(rd, rd, int32(lo)))
		}

		return
	}

	lo := sv << 52 >> 52

	code = append(Li(rd, uint64((sv-lo)>>12)), SLLI(rd, rd, 12))

	if lo != 0 {
		code = append(code, ADDI(rd, rd, int32(lo)))
	}

	return
}

// Assemble flattens instruction words into a little endian image.
func Assemble(words ...uint32) []byte {
	img := make([]byte, 4*len(words))

	for i, w := range words {
		binary.LittleEndian.PutUint32(img[4*i:], w)
	}

	return img
}

// Flatten concatenates instruction sequences, convenient with Li.
func Flatten(seqs ...[]uint32) (words []uint32) {
	for _, s := range seqs {
		words = append(words, s...)
	}

	return
}
