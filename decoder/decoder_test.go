// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package decoder_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vfmon/vfmon/decoder"
	"github.com/vfmon/vfmon/sim"
)

func TestDecodeCSR(t *testing.T) {
	for _, tt := range []struct {
		name string
		raw  uint32
		want decoder.Instr
	}{
		{
			"csrrw", sim.CSRRW(5, 0x305, 6),
			decoder.Instr{Op: decoder.OpCSRRW, Rd: 5, Rs1: 6, CSR: 0x305},
		},
		{
			"csrrs", sim.CSRRS(10, 0x300, 0),
			decoder.Instr{Op: decoder.OpCSRRS, Rd: 10, Rs1: 0, CSR: 0x300},
		},
		{
			"csrrc", sim.CSRRC(0, 0x304, 7),
			decoder.Instr{Op: decoder.OpCSRRC, Rd: 0, Rs1: 7, CSR: 0x304},
		},
		{
			"csrrwi", sim.CSRRWI(3, 0x340, 0x1f),
			decoder.Instr{Op: decoder.OpCSRRWI, Rd: 3, Rs1: 0x1f, CSR: 0x340, Uimm: 0x1f},
		},
		{
			"csrrsi", sim.CSRRSI(0, 0x344, 8),
			decoder.Instr{Op: decoder.OpCSRRSI, Rd: 0, Rs1: 8, CSR: 0x344, Uimm: 8},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			instr, err := decoder.Decode(tt.raw)

			if err != nil {
				t.Fatal(err)
			}

			if diff := cmp.Diff(tt.want, instr); diff != "" {
				t.Errorf("unexpected decode (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodePrivileged(t *testing.T) {
	for _, tt := range []struct {
		name string
		raw  uint32
		op   decoder.Op
	}{
		{"ecall", sim.ECALL(), decoder.OpECALL},
		{"ebreak", sim.EBREAK(), decoder.OpEBREAK},
		{"mret", sim.MRET(), decoder.OpMRET},
		{"sret", sim.SRET(), decoder.OpSRET},
		{"wfi", sim.WFI(), decoder.OpWFI},
	} {
		t.Run(tt.name, func(t *testing.T) {
			instr, err := decoder.Decode(tt.raw)

			if err != nil {
				t.Fatal(err)
			}

			if instr.Op != tt.op {
				t.Errorf("expected op %v, got %v", tt.op, instr.Op)
			}
		})
	}
}

func TestDecodeMemory(t *testing.T) {
	instr, err := decoder.Decode(sim.LD(7, 5, -8))

	if err != nil {
		t.Fatal(err)
	}

	want := decoder.Instr{Op: decoder.OpLoad, Rd: 7, Rs1: 5, Width: 8, Imm: -8}

	if diff := cmp.Diff(want, instr); diff != "" {
		t.Errorf("unexpected ld decode (-want +got):\n%s", diff)
	}

	instr, err = decoder.Decode(sim.SW(9, 8, 12))

	if err != nil {
		t.Fatal(err)
	}

	want = decoder.Instr{Op: decoder.OpStore, Rs1: 8, Rs2: 9, Width: 4, Imm: 12}

	if diff := cmp.Diff(want, instr); diff != "" {
		t.Errorf("unexpected sw decode (-want +got):\n%s", diff)
	}

	// unsigned load
	instr, err = decoder.Decode(sim.LWU(4, 2, 0))

	if err != nil {
		t.Fatal(err)
	}

	if !instr.Unsigned || instr.Width != 4 {
		t.Errorf("unexpected lwu decode %+v", instr)
	}
}

func TestDecodeRejects(t *testing.T) {
	// compressed instructions are not emulated
	if _, err := decoder.Decode(0x0001); !errors.Is(err, decoder.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}

	// unknown funct12 in the system opcode space
	if _, err := decoder.Decode(0xfff00073); !errors.Is(err, decoder.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}

	if _, err := decoder.Decode(0xffffffff); !errors.Is(err, decoder.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}
