// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package monitor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"golang.org/x/crypto/sha3"

	"github.com/vfmon/vfmon/mem"
	"github.com/vfmon/vfmon/pmp"
	"github.com/vfmon/vfmon/policy"
	"github.com/vfmon/vfmon/sbi"
)

func ecall(t *testing.T, m *Monitor, ctx *HartContext, eid uint64, fid uint64, args ...uint64) error {
	t.Helper()

	ctx.Regs[RegA7] = eid
	ctx.Regs[RegA6] = fid

	for i, arg := range args {
		ctx.Regs[RegA0+i] = arg
	}

	return m.Handle(ctx, Trap{MCause: CauseEcallFromU})
}

func TestEcallShutdown(t *testing.T) {
	m, _ := newTestMonitor(1, &policy.NoOp{})
	ctx := m.Hart(0)

	err := ecall(t, m, ctx, sbi.EXT_SRST, sbi.SRST_SYSTEM_RESET, sbi.SRST_TYPE_SHUTDOWN, 42)

	var shutdown *ShutdownError

	if !errors.As(err, &shutdown) || shutdown.Code != 42 {
		t.Fatalf("expected shutdown with code 42, got %v", err)
	}

	// unsupported reset types complete with an error instead
	if err = ecall(t, m, ctx, sbi.EXT_SRST, sbi.SRST_SYSTEM_RESET, sbi.SRST_TYPE_COLD_REBOOT, 0); err != nil {
		t.Fatal(err)
	}

	if int64(ctx.Regs[RegA0]) != sbi.SBI_ERR_NOT_SUPPORTED {
		t.Errorf("unexpected a0 %#x", ctx.Regs[RegA0])
	}
}

func TestEcallBase(t *testing.T) {
	m, _ := newTestMonitor(1, &policy.NoOp{})
	ctx := m.Hart(0)

	if err := ecall(t, m, ctx, sbi.EXT_BASE, sbi.BASE_GET_SPEC_VERSION); err != nil {
		t.Fatal(err)
	}

	if ctx.Regs[RegA1] != sbi.SpecVersion {
		t.Errorf("unexpected spec version %#x", ctx.Regs[RegA1])
	}

	if err := ecall(t, m, ctx, sbi.EXT_BASE, sbi.BASE_GET_IMP_ID); err != nil {
		t.Fatal(err)
	}

	if ctx.Regs[RegA1] != sbi.ImpID {
		t.Errorf("unexpected implementation id %#x", ctx.Regs[RegA1])
	}

	if err := ecall(t, m, ctx, sbi.EXT_BASE, sbi.BASE_PROBE_EXT, sbi.EXT_SRST); err != nil {
		t.Fatal(err)
	}

	if ctx.Regs[RegA1] != 1 {
		t.Error("reset extension not probed")
	}

	if err := ecall(t, m, ctx, sbi.EXT_BASE, sbi.BASE_PROBE_EXT, sbi.EXT_HSM); err != nil {
		t.Fatal(err)
	}

	if ctx.Regs[RegA1] != 0 {
		t.Error("unimplemented extension probed")
	}
}

type denyEcalls struct {
	policy.NoOp
}

func (p *denyEcalls) AuthorizeEcall(hart int, from mem.Owner, eid uint64, fid uint64) policy.Decision {
	return policy.Denied
}

func TestEcallDenied(t *testing.T) {
	m, _ := newTestMonitor(1, &denyEcalls{})
	ctx := m.Hart(0)

	pc := ctx.PC

	if err := ecall(t, m, ctx, sbi.EXT_BASE, sbi.BASE_GET_SPEC_VERSION); err != nil {
		t.Fatal(err)
	}

	if int64(ctx.Regs[RegA0]) != sbi.SBI_ERR_DENIED {
		t.Errorf("unexpected a0 %#x", ctx.Regs[RegA0])
	}

	if ctx.PC != pc+4 {
		t.Error("denied ecall did not resume past the instruction")
	}
}

func TestEcallForwarded(t *testing.T) {
	m, _ := newTestMonitor(1, &policy.NoOp{})
	ctx := m.Hart(0)

	ctx.CSR.Mtvec = mem.FirmwareStart + 0x40
	ctx.Mode = ModeS
	pc := ctx.PC

	// a standard extension raised by the payload belongs to the virtual
	// firmware, the monitor forwards the exception untouched
	if err := ecall(t, m, ctx, sbi.EXT_TIME, 0); err != nil {
		t.Fatal(err)
	}

	if ctx.Mode != ModeM || ctx.CSR.Mcause != CauseEcallFromS {
		t.Fatalf("not forwarded, mode %s cause %#x", ctx.Mode, ctx.CSR.Mcause)
	}

	if ctx.CSR.Mepc != pc || ctx.PC != mem.FirmwareStart+0x40 {
		t.Errorf("unexpected mepc %#x pc %#x", ctx.CSR.Mepc, ctx.PC)
	}
}

func TestGoTEEConsole(t *testing.T) {
	m, plat := newTestMonitor(1, &policy.NoOp{})
	ctx := m.Hart(0)

	for _, c := range []byte("ok\n") {
		ctx.Regs[RegA0] = sbi.GOTEE_SYS_WRITE
		ctx.Regs[RegA1] = uint64(c)
		ctx.Regs[RegA7] = 0

		handle(t, m, ctx, Trap{MCause: CauseEcallFromU})
	}

	if plat.console.String() != "ok\n" {
		t.Errorf("unexpected console output %q", plat.console.String())
	}
}

func TestGoTEEExit(t *testing.T) {
	m, _ := newTestMonitor(1, &policy.NoOp{})
	ctx := m.Hart(0)

	err := ecall(t, m, ctx, 0, 0, sbi.GOTEE_SYS_EXIT, 7)

	var shutdown *ShutdownError

	if !errors.As(err, &shutdown) || shutdown.Code != 7 {
		t.Fatalf("expected shutdown with code 7, got %v", err)
	}
}

func TestGoTEEGetRandom(t *testing.T) {
	m, _ := newTestMonitor(1, &policy.NoOp{})
	ctx := m.Hart(0)

	if err := ecall(t, m, ctx, 0, 0, sbi.GOTEE_SYS_GETRANDOM, mem.FirmwareStart+0x100, 16); err != nil {
		t.Fatal(err)
	}

	if ctx.Regs[RegA0] != 16 {
		t.Errorf("unexpected length %d", ctx.Regs[RegA0])
	}

	// zero and oversized requests are rejected
	if err := ecall(t, m, ctx, 0, 0, sbi.GOTEE_SYS_GETRANDOM, mem.FirmwareStart+0x100, 0); err != nil {
		t.Fatal(err)
	}

	if int64(ctx.Regs[RegA0]) != sbi.SBI_ERR_INVALID_PARAM {
		t.Errorf("unexpected a0 %#x", ctx.Regs[RegA0])
	}
}

func TestSealPropagation(t *testing.T) {
	m, plat := newTestMonitor(2, policy.NewEnclave())
	ctx := m.Hart(0)

	if err := m.Init(); err != nil {
		t.Fatal(err)
	}

	plat.base = mem.PayloadStart
	plat.ram = bytes.Repeat([]byte{0xaa}, 0x2000)

	if err := ecall(t, m, ctx, sbi.EXT_VFMON, sbi.VFMON_SEAL, mem.PayloadStart, 0x1000); err != nil {
		t.Fatal(err)
	}

	if int64(ctx.Regs[RegA0]) != sbi.SBI_SUCCESS {
		t.Fatalf("seal failed, a0 %#x", ctx.Regs[RegA0])
	}

	// the sealing hart's real view excludes the region immediately
	if pmp.Allows(plat.applied[0], mem.PayloadStart, 8, mem.PermR) {
		t.Error("sealed region still reachable on the sealing hart")
	}

	// the peer is notified and refreshes at its next trap
	if len(plat.signals) != 1 || plat.signals[0] != 1 {
		t.Fatalf("unexpected signals %v", plat.signals)
	}

	peer := m.Hart(1)
	handle(t, m, peer, illegal(fenceInstr))

	if pmp.Allows(plat.applied[1], mem.PayloadStart, 8, mem.PermR) {
		t.Error("sealed region still reachable on the peer hart")
	}
}

func TestAttest(t *testing.T) {
	m, plat := newTestMonitor(1, policy.NewEnclave())
	ctx := m.Hart(0)

	// attestation requires a prior seal
	if err := ecall(t, m, ctx, sbi.EXT_VFMON, sbi.VFMON_ATTEST, 0); err != nil {
		t.Fatal(err)
	}

	if int64(ctx.Regs[RegA0]) != sbi.SBI_ERR_FAILED {
		t.Fatalf("unexpected a0 %#x", ctx.Regs[RegA0])
	}

	plat.base = mem.PayloadStart
	plat.ram = bytes.Repeat([]byte{0x5a}, 0x1000)

	contents := append([]byte(nil), plat.ram...)

	if err := ecall(t, m, ctx, sbi.EXT_VFMON, sbi.VFMON_SEAL, mem.PayloadStart, 0x1000); err != nil {
		t.Fatal(err)
	}

	if err := ecall(t, m, ctx, sbi.EXT_VFMON, sbi.VFMON_ATTEST, 0); err != nil {
		t.Fatal(err)
	}

	sum := sha3.Sum512(contents)

	if ctx.Regs[RegA1] != binary.LittleEndian.Uint64(sum[:8]) {
		t.Errorf("unexpected measurement word %#x", ctx.Regs[RegA1])
	}

	// sha3-512 has 8 words, the index past the end is rejected
	if err := ecall(t, m, ctx, sbi.EXT_VFMON, sbi.VFMON_ATTEST, 8); err != nil {
		t.Fatal(err)
	}

	if int64(ctx.Regs[RegA0]) != sbi.SBI_ERR_INVALID_PARAM {
		t.Errorf("unexpected a0 %#x", ctx.Regs[RegA0])
	}
}
