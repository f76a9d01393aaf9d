// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

import (
	"testing"

	"github.com/vfmon/vfmon/clint"
	"github.com/vfmon/vfmon/mem"
	"github.com/vfmon/vfmon/monitor"
	"github.com/vfmon/vfmon/pmp"
	"github.com/vfmon/vfmon/policy"
	"github.com/vfmon/vfmon/sbi"
)

// shutdownSeq requests a system shutdown with the given exit code through
// the reset extension.
func shutdownSeq(code uint64) []uint32 {
	return Flatten(
		Li(10, sbi.SRST_TYPE_SHUTDOWN),
		Li(11, code),
		Li(16, sbi.SRST_SYSTEM_RESET),
		Li(17, sbi.EXT_SRST),
		[]uint32{ECALL()},
	)
}

func boot(t *testing.T, pol policy.Policy, harts int, images map[uint64][]uint32) *Machine {
	t.Helper()

	m := New(harts, mem.FirmwareStart, pol)

	for addr, words := range images {
		if err := m.Load(addr, Assemble(words...)); err != nil {
			t.Fatal(err)
		}
	}

	return m
}

func TestShutdown(t *testing.T) {
	m := boot(t, &policy.NoOp{}, 1, map[uint64][]uint32{
		mem.FirmwareStart: shutdownSeq(42),
	})

	code, err := m.Run()

	if err != nil {
		t.Fatal(err)
	}

	if code != 42 {
		t.Errorf("unexpected exit code %d", code)
	}
}

func TestInterpreter(t *testing.T) {
	// iterative fibonacci, the result becomes the exit code
	prog := Flatten(
		Li(5, 10),
		Li(6, 0),
		Li(7, 1),
		[]uint32{
			BEQ(5, 0, 24),
			ADD(8, 6, 7),
			ADD(6, 7, 0),
			ADD(7, 8, 0),
			ADDI(5, 5, -1),
			JAL(0, -20),
			ADD(11, 6, 0),
		},
		Li(10, sbi.SRST_TYPE_SHUTDOWN),
		Li(16, sbi.SRST_SYSTEM_RESET),
		Li(17, sbi.EXT_SRST),
		[]uint32{ECALL()},
	)

	m := boot(t, &policy.NoOp{}, 1, map[uint64][]uint32{mem.FirmwareStart: prog})

	code, err := m.Run()

	if err != nil {
		t.Fatal(err)
	}

	if code != 55 {
		t.Errorf("unexpected exit code %d", code)
	}
}

func TestConsole(t *testing.T) {
	prog := Flatten(
		Li(17, 0),
		Li(10, sbi.GOTEE_SYS_WRITE),
		Li(11, 'h'),
		[]uint32{ECALL()},
		Li(11, 'i'),
		[]uint32{ECALL()},
		Li(10, sbi.GOTEE_SYS_EXIT),
		Li(11, 0),
		[]uint32{ECALL()},
	)

	m := boot(t, &policy.NoOp{}, 1, map[uint64][]uint32{mem.FirmwareStart: prog})

	if _, err := m.Run(); err != nil {
		t.Fatal(err)
	}

	if m.Console() != "hi" {
		t.Errorf("unexpected console output %q", m.Console())
	}
}

func TestCSREmulation(t *testing.T) {
	// a value round-tripped through mscratch becomes the exit code
	prog := Flatten(
		Li(6, 0x123),
		[]uint32{
			CSRRW(0, monitor.CSRMscratch, 6),
			CSRRS(11, monitor.CSRMscratch, 0),
		},
		Li(10, sbi.SRST_TYPE_SHUTDOWN),
		Li(16, sbi.SRST_SYSTEM_RESET),
		Li(17, sbi.EXT_SRST),
		[]uint32{ECALL()},
	)

	m := boot(t, &policy.NoOp{}, 1, map[uint64][]uint32{mem.FirmwareStart: prog})

	code, err := m.Run()

	if err != nil {
		t.Fatal(err)
	}

	if code != 0x123 {
		t.Errorf("unexpected exit code %#x", code)
	}
}

func TestTimerWFI(t *testing.T) {
	handler := uint64(mem.FirmwareStart + 0x80)

	main := Flatten(
		Li(5, handler),
		[]uint32{CSRRW(0, monitor.CSRMtvec, 5)},
		Li(5, 0x80), // MTIE
		[]uint32{
			CSRRW(0, monitor.CSRMie, 5),
			CSRRSI(0, monitor.CSRMstatus, 8), // MIE
		},
		Li(5, clint.Base+0x4000),
		Li(6, 500),
		[]uint32{
			SD(6, 5, 0),
			WFI(),
			JAL(0, 0),
		},
	)

	if len(main)*4 > 0x80 {
		t.Fatalf("main does not fit below the handler, %d words", len(main))
	}

	m := boot(t, &policy.NoOp{}, 1, map[uint64][]uint32{
		mem.FirmwareStart: main,
		handler:           shutdownSeq(5),
	})

	code, err := m.Run()

	if err != nil {
		t.Fatal(err)
	}

	if code != 5 {
		t.Errorf("unexpected exit code %d", code)
	}
}

func TestSandboxIsolation(t *testing.T) {
	handler := uint64(mem.FirmwareStart + 0x80)

	// a load from monitor memory must fault into the firmware trap vector
	main := Flatten(
		Li(5, handler),
		[]uint32{CSRRW(0, monitor.CSRMtvec, 5)},
		Li(6, mem.MonitorStart),
		[]uint32{
			LD(7, 6, 0),
			JAL(0, 0),
		},
	)

	m := boot(t, policy.NewSandbox(), 1, map[uint64][]uint32{
		mem.FirmwareStart: main,
		handler:           shutdownSeq(7),
	})

	code, err := m.Run()

	if err != nil {
		t.Fatal(err)
	}

	if code != 7 {
		t.Errorf("unexpected exit code %d", code)
	}
}

func TestPMPMachineMode(t *testing.T) {
	handler := uint64(mem.FirmwareStart + 0x100)

	// an unlocked no-permission entry over the payload page never applies
	// to the machine mode guest that wrote it: the load still succeeds
	// and its value becomes the exit code
	main := Flatten(
		Li(5, handler),
		[]uint32{CSRRW(0, monitor.CSRMtvec, 5)},
		Li(6, mem.PayloadStart),
		Li(7, 21),
		[]uint32{SD(7, 6, 0)},
		Li(5, mem.PayloadStart>>2|(0x1000>>3-1)),
		[]uint32{CSRRW(0, monitor.CSRPmpaddr0, 5)},
		Li(5, pmp.ModeNAPOT<<3),
		[]uint32{
			CSRRW(0, monitor.CSRPmpcfg0, 5),
			LD(11, 6, 0),
		},
		Li(10, sbi.SRST_TYPE_SHUTDOWN),
		Li(16, sbi.SRST_SYSTEM_RESET),
		Li(17, sbi.EXT_SRST),
		[]uint32{ECALL()},
	)

	if len(main)*4 > 0x100 {
		t.Fatalf("main does not fit below the handler, %d words", len(main))
	}

	m := boot(t, &policy.NoOp{}, 1, map[uint64][]uint32{
		mem.FirmwareStart: main,
		handler:           shutdownSeq(77),
	})

	code, err := m.Run()

	if err != nil {
		t.Fatal(err)
	}

	if code != 21 {
		t.Errorf("unexpected exit code %d", code)
	}
}

func TestSealIsolation(t *testing.T) {
	handler := uint64(mem.FirmwareStart + 0x100)

	// after sealing the payload region the firmware can no longer read it
	main := Flatten(
		Li(5, handler),
		[]uint32{CSRRW(0, monitor.CSRMtvec, 5)},
		Li(17, sbi.EXT_VFMON),
		Li(16, sbi.VFMON_SEAL),
		Li(10, mem.PayloadStart),
		Li(11, 0x1000),
		[]uint32{ECALL()},
		Li(6, mem.PayloadStart),
		[]uint32{
			LD(7, 6, 0),
			JAL(0, 0),
		},
	)

	if len(main)*4 > 0x100 {
		t.Fatalf("main does not fit below the handler, %d words", len(main))
	}

	m := boot(t, policy.NewProtectPayload(), 1, map[uint64][]uint32{
		mem.FirmwareStart: main,
		handler:           shutdownSeq(3),
	})

	code, err := m.Run()

	if err != nil {
		t.Fatal(err)
	}

	if code != 3 {
		t.Errorf("unexpected exit code %d", code)
	}
}

func TestInterHartInterrupt(t *testing.T) {
	handler := uint64(mem.FirmwareStart + 0x100)

	// hart 0 raises the peer's msip through the virtual CLINT and parks,
	// hart 1 waits for the interrupt and shuts the machine down
	hart0 := Flatten(
		Li(6, clint.Base+4),
		Li(7, 1),
		[]uint32{
			SW(7, 6, 0),
			WFI(),
			JAL(0, 0),
		},
	)

	hart1 := Flatten(
		Li(5, handler),
		[]uint32{CSRRW(0, monitor.CSRMtvec, 5)},
		Li(5, 8), // MSIE
		[]uint32{
			CSRRW(0, monitor.CSRMie, 5),
			CSRRSI(0, monitor.CSRMstatus, 8), // MIE
			WFI(),
			JAL(0, 0),
		},
	)

	main := Flatten(
		[]uint32{
			CSRRS(5, monitor.CSRMhartid, 0),
			BNE(5, 0, int32(4*(1+len(hart0)))),
		},
		hart0,
		hart1,
	)

	if len(main)*4 > 0x100 {
		t.Fatalf("main does not fit below the handler, %d words", len(main))
	}

	m := boot(t, &policy.NoOp{}, 2, map[uint64][]uint32{
		mem.FirmwareStart: main,
		handler:           shutdownSeq(9),
	})

	code, err := m.Run()

	if err != nil {
		t.Fatal(err)
	}

	if code != 9 {
		t.Errorf("unexpected exit code %d", code)
	}
}
