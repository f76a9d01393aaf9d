// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package monitor

import (
	"errors"
	"fmt"

	"github.com/vfmon/vfmon/pmp"
)

// Virtual CSR indices, RISC-V privileged specification v1.12.
const (
	CSRSstatus    = 0x100
	CSRSie        = 0x104
	CSRStvec      = 0x105
	CSRScounteren = 0x106
	CSRSscratch   = 0x140
	CSRSepc       = 0x141
	CSRScause     = 0x142
	CSRStval      = 0x143
	CSRSip        = 0x144
	CSRSatp       = 0x180

	CSRMstatus    = 0x300
	CSRMisa       = 0x301
	CSRMedeleg    = 0x302
	CSRMideleg    = 0x303
	CSRMie        = 0x304
	CSRMtvec      = 0x305
	CSRMcounteren = 0x306
	CSRMenvcfg    = 0x30a
	CSRMscratch   = 0x340
	CSRMepc       = 0x341
	CSRMcause     = 0x342
	CSRMtval      = 0x343
	CSRMip        = 0x344

	CSRPmpcfg0  = 0x3a0
	CSRPmpcfg2  = 0x3a2
	CSRPmpaddr0 = 0x3b0

	CSRTime = 0xc01

	CSRMvendorid = 0xf11
	CSRMarchid   = 0xf12
	CSRMimpid    = 0xf13
	CSRMhartid   = 0xf14
)

// mstatus fields.
const (
	mstatusSIE  = 1 << 1
	mstatusMIE  = 1 << 3
	mstatusSPIE = 1 << 5
	mstatusMPIE = 1 << 7
	mstatusSPP  = 1 << 8
	mstatusMPP  = 3 << 11
	mstatusFS   = 3 << 13
	mstatusMPRV = 1 << 17
	mstatusSUM  = 1 << 18
	mstatusMXR  = 1 << 19
	mstatusTVM  = 1 << 20
	mstatusTW   = 1 << 21
	mstatusTSR  = 1 << 22
	mstatusUXL  = 3 << 32
	mstatusSXL  = 3 << 34
	mstatusSD   = 1 << 63

	mstatusMPPShift = 11

	// writable fields, everything else is WPRI or pinned
	mstatusWriteMask = mstatusSIE | mstatusMIE | mstatusSPIE | mstatusMPIE |
		mstatusSPP | mstatusMPP | mstatusFS | mstatusMPRV |
		mstatusSUM | mstatusMXR | mstatusTVM | mstatusTW | mstatusTSR

	// UXL and SXL read as 64-bit and are not writable
	mstatusFixed = 2<<32 | 2<<34

	// supervisor view of mstatus
	sstatusWriteMask = mstatusSIE | mstatusSPIE | mstatusSPP |
		mstatusFS | mstatusSUM | mstatusMXR
	sstatusReadMask = sstatusWriteMask | mstatusUXL | mstatusSD
)

// Interrupt bits of mie/mip.
const (
	mipSSIP = 1 << 1
	mipMSIP = 1 << 3
	mipSTIP = 1 << 5
	mipMTIP = 1 << 7
	mipSEIP = 1 << 9
	mipMEIP = 1 << 11

	// implemented interrupt lines
	mieWriteMask = mipSSIP | mipMSIP | mipSTIP | mipMTIP | mipSEIP | mipMEIP

	// MSIP and MTIP are controlled by the virtual CLINT, not by CSR
	// writes
	mipWriteMask = mipSSIP | mipSTIP | mipSEIP
)

// Delegatable causes: all standard exceptions except environment call from
// machine mode, and the supervisor level interrupts.
const (
	medelegMask = 0xb3ff
	midelegMask = mipSSIP | mipSTIP | mipSEIP
)

// misa: RV64 with the IMACSU extensions the monitor exposes.
const misaValue = 2<<62 |
	1<<0 | // A
	1<<2 | // C
	1<<8 | // I
	1<<12 | // M
	1<<18 | // S
	1<<20 // U

var errUnknownCSR = errors.New("unknown CSR")

// csrPriv returns the minimum privilege encoded in a CSR index.
func csrPriv(csr uint16) Mode {
	switch (csr >> 8) & 0x3 {
	case 0:
		return ModeU
	case 1, 2:
		return ModeS
	default:
		return ModeM
	}
}

// csrReadOnly returns whether the CSR index is architecturally read-only.
func csrReadOnly(csr uint16) bool {
	return csr>>10 == 0x3
}

// readCSR implements the read semantics of every virtualized CSR. A CSR not
// implemented by the monitor returns errUnknownCSR, which the dispatcher
// converts to a virtual illegal-instruction exception.
func (m *Monitor) readCSR(ctx *HartContext, csr uint16) (val uint64, err error) {
	if ctx.Mode < csrPriv(csr) {
		return 0, fmt.Errorf("%w: %#x not readable at %s", errUnknownCSR, csr, ctx.Mode)
	}

	switch csr {
	case CSRMstatus:
		return ctx.CSR.Mstatus, nil
	case CSRMisa:
		return ctx.CSR.Misa, nil
	case CSRMedeleg:
		return ctx.CSR.Medeleg, nil
	case CSRMideleg:
		return ctx.CSR.Mideleg, nil
	case CSRMie:
		return ctx.CSR.Mie, nil
	case CSRMip:
		m.syncPending(ctx)
		return ctx.CSR.Mip, nil
	case CSRMtvec:
		return ctx.CSR.Mtvec, nil
	case CSRMscratch:
		return ctx.CSR.Mscratch, nil
	case CSRMepc:
		return ctx.CSR.Mepc, nil
	case CSRMcause:
		return ctx.CSR.Mcause, nil
	case CSRMtval:
		return ctx.CSR.Mtval, nil
	case CSRMcounteren:
		return ctx.CSR.Mcounteren, nil
	case CSRMenvcfg:
		return ctx.CSR.Menvcfg, nil
	case CSRSstatus:
		return ctx.CSR.Mstatus & sstatusReadMask, nil
	case CSRSie:
		return ctx.CSR.Mie & ctx.CSR.Mideleg, nil
	case CSRSip:
		m.syncPending(ctx)
		return ctx.CSR.Mip & ctx.CSR.Mideleg, nil
	case CSRStvec:
		return ctx.CSR.Stvec, nil
	case CSRSscratch:
		return ctx.CSR.Sscratch, nil
	case CSRSepc:
		return ctx.CSR.Sepc, nil
	case CSRScause:
		return ctx.CSR.Scause, nil
	case CSRStval:
		return ctx.CSR.Stval, nil
	case CSRSatp:
		return ctx.CSR.Satp, nil
	case CSRScounteren:
		return 0, nil
	case CSRTime:
		return m.Platform.Now(), nil
	case CSRMvendorid, CSRMarchid, CSRMimpid:
		return 0, nil
	case CSRMhartid:
		return uint64(ctx.ID), nil
	}

	if csr >= CSRPmpaddr0 && csr < CSRPmpaddr0+pmp.HardwareEntries {
		return ctx.PMP.Addr(int(csr - CSRPmpaddr0)), nil
	}

	if csr == CSRPmpcfg0 || csr == CSRPmpcfg2 {
		return m.readPmpcfg(ctx, csr), nil
	}

	return 0, fmt.Errorf("%w: %#x", errUnknownCSR, csr)
}

// writeCSR implements the write semantics of every virtualized CSR,
// normalizing WARL fields to a legal value before they can be observed by a
// subsequent read.
func (m *Monitor) writeCSR(ctx *HartContext, csr uint16, val uint64) (err error) {
	if ctx.Mode < csrPriv(csr) || csrReadOnly(csr) {
		return fmt.Errorf("%w: %#x not writable at %s", errUnknownCSR, csr, ctx.Mode)
	}

	switch csr {
	case CSRMstatus:
		ctx.CSR.Mstatus = normalizeMstatus(ctx.CSR.Mstatus, val)
		return
	case CSRMisa:
		// WARL, the monitor does not support disabling extensions
		return
	case CSRMedeleg:
		ctx.CSR.Medeleg = val & medelegMask
		return
	case CSRMideleg:
		ctx.CSR.Mideleg = val & midelegMask
		return
	case CSRMie:
		ctx.CSR.Mie = val & mieWriteMask
		return
	case CSRMip:
		ctx.CSR.Mip = ctx.CSR.Mip&^mipWriteMask | val&mipWriteMask
		return
	case CSRMtvec:
		ctx.CSR.Mtvec = normalizeTvec(val)
		return
	case CSRMscratch:
		ctx.CSR.Mscratch = val
		return
	case CSRMepc:
		ctx.CSR.Mepc = val &^ 1
		return
	case CSRMcause:
		ctx.CSR.Mcause = val
		return
	case CSRMtval:
		ctx.CSR.Mtval = val
		return
	case CSRMcounteren:
		ctx.CSR.Mcounteren = val & 0xffffffff
		return
	case CSRMenvcfg:
		ctx.CSR.Menvcfg = val & 1 // FIOM only
		return
	case CSRSstatus:
		masked := ctx.CSR.Mstatus&^uint64(sstatusWriteMask) | val&sstatusWriteMask
		ctx.CSR.Mstatus = normalizeMstatus(ctx.CSR.Mstatus, masked)
		return
	case CSRSie:
		deleg := ctx.CSR.Mideleg
		ctx.CSR.Mie = ctx.CSR.Mie&^deleg | val&deleg
		return
	case CSRSip:
		deleg := ctx.CSR.Mideleg & mipWriteMask
		ctx.CSR.Mip = ctx.CSR.Mip&^deleg | val&deleg
		return
	case CSRStvec:
		ctx.CSR.Stvec = normalizeTvec(val)
		return
	case CSRSscratch:
		ctx.CSR.Sscratch = val
		return
	case CSRSepc:
		ctx.CSR.Sepc = val &^ 1
		return
	case CSRScause:
		ctx.CSR.Scause = val
		return
	case CSRStval:
		ctx.CSR.Stval = val
		return
	case CSRSatp:
		ctx.CSR.Satp = normalizeSatp(ctx.CSR.Satp, val)
		return
	case CSRScounteren:
		return
	}

	if csr >= CSRPmpaddr0 && csr < CSRPmpaddr0+pmp.HardwareEntries {
		return m.writePmpaddr(ctx, int(csr-CSRPmpaddr0), val)
	}

	if csr == CSRPmpcfg0 || csr == CSRPmpcfg2 {
		return m.writePmpcfg(ctx, csr, val)
	}

	return fmt.Errorf("%w: %#x", errUnknownCSR, csr)
}

// normalizeMstatus applies WARL masking to an mstatus write: WPRI bits read
// as zero, UXL/SXL are pinned to 64-bit, and an illegal MPP encoding keeps
// the prior legal value.
func normalizeMstatus(old uint64, val uint64) uint64 {
	next := val&mstatusWriteMask | mstatusFixed

	if (next&mstatusMPP)>>mstatusMPPShift == 2 {
		next = next&^uint64(mstatusMPP) | old&mstatusMPP
	}

	// SD summarizes FS dirty state
	if next&mstatusFS == mstatusFS {
		next |= mstatusSD
	}

	return next
}

// normalizeTvec clamps the tvec mode field to the supported direct and
// vectored encodings.
func normalizeTvec(val uint64) uint64 {
	if val&0x3 > 1 {
		val &^= 0x3
	}

	return val
}

// normalizeSatp accepts only the bare and sv39 translation modes, any other
// mode leaves the register unchanged per WARL rules.
func normalizeSatp(old uint64, val uint64) uint64 {
	switch val >> 60 {
	case 0, 8:
		return val
	default:
		return old
	}
}

func (m *Monitor) readPmpcfg(ctx *HartContext, csr uint16) (val uint64) {
	base := 0

	if csr == CSRPmpcfg2 {
		base = 8
	}

	for i := 0; i < 8; i++ {
		val |= uint64(ctx.PMP.Cfg(base+i)) << (8 * i)
	}

	return
}

// writePmpcfg applies a virtual pmpcfg write. The virtual view always
// reflects the firmware's request (modulo byte level WARL masking), the
// recomputed real table is clamped against protected regions. A table that
// no longer fits the hardware entry budget rejects the write with a
// resource-exhaustion trap instead of silently dropping protection.
func (m *Monitor) writePmpcfg(ctx *HartContext, csr uint16, val uint64) (err error) {
	base := 0

	if csr == CSRPmpcfg2 {
		base = 8
	}

	saved := ctx.PMP

	for i := 0; i < 8; i++ {
		ctx.PMP.SetCfg(base+i, byte(val>>(8*i)))
	}

	if err = ctx.PMP.Fits(m.protectedFrom(ctx.Mode.Owner())); err != nil {
		ctx.PMP = saved
		return
	}

	return m.applyPMP(ctx)
}

func (m *Monitor) writePmpaddr(ctx *HartContext, i int, val uint64) (err error) {
	saved := ctx.PMP

	ctx.PMP.SetAddr(i, val)

	if err = ctx.PMP.Fits(m.protectedFrom(ctx.Mode.Owner())); err != nil {
		ctx.PMP = saved
		return
	}

	return m.applyPMP(ctx)
}
