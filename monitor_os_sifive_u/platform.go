// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && riscv64
// +build tamago,riscv64

package main

import (
	"log"
	"runtime"
	"unsafe"

	"github.com/usbarmory/tamago/reg"
	"github.com/usbarmory/tamago/riscv"
	"github.com/usbarmory/tamago/soc/sifive/fu540"

	"github.com/vfmon/vfmon/monitor"
	"github.com/vfmon/vfmon/pmp"
	"github.com/vfmon/vfmon/util"
)

// CLINT register offsets, SiFive FU540 memory map.
const (
	msipOffset     = 0x0000
	mtimecmpOffset = 0x4000
	mtimeOffset    = 0xbff8
)

// Hardware implements the platform boundary on the FU540, the monitor runs
// in machine mode with full access to the real CLINT and PMP registers.
type Hardware struct {
	mon *monitor.Monitor
}

// SignalSoft implements monitor.Platform.
func (h *Hardware) SignalSoft(hart int) {
	reg.Write(fu540.CLINT_BASE+msipOffset+uint32(4*hart), 1)
}

// SetTimer implements monitor.Platform. The comparator is written in two
// halves with the high word parked first, so no spurious interrupt fires in
// between.
func (h *Hardware) SetTimer(hart int, when uint64) {
	addr := fu540.CLINT_BASE + mtimecmpOffset + uint32(8*hart)

	reg.Write(addr+4, 0xffffffff)
	reg.Write(addr, uint32(when))
	reg.Write(addr+4, uint32(when>>32))
}

// Now implements monitor.Platform, reading the free running mtime counter.
func (h *Hardware) Now() uint64 {
	addr := fu540.CLINT_BASE + mtimeOffset

	for {
		hi := reg.Read(addr + 4)
		lo := reg.Read(addr)

		if reg.Read(addr+4) == hi {
			return uint64(hi)<<32 | uint64(lo)
		}
	}
}

// ApplyPMP implements monitor.Platform, committing a composed table to the
// hart's PMP registers. Unused slots are turned off so no stale entry
// outlives a view switch.
func (h *Hardware) ApplyPMP(hart int, entries []pmp.Entry) (err error) {
	for i := 0; i < pmp.HardwareEntries; i++ {
		var e pmp.Entry

		if i < len(entries) {
			e = entries[i]
		}

		mode := riscv.PMP_CFG_A_OFF

		switch e.Mode() {
		case pmp.ModeTOR:
			mode = riscv.PMP_CFG_A_TOR
		case pmp.ModeNA4:
			mode = riscv.PMP_CFG_A_NA4
		case pmp.ModeNAPOT:
			mode = riscv.PMP_CFG_A_NAPOT
		}

		err = fu540.RV64.WritePMP(i, e.Addr<<2,
			e.Cfg&pmp.CfgR != 0,
			e.Cfg&pmp.CfgW != 0,
			e.Cfg&pmp.CfgX != 0,
			mode,
			e.Cfg&pmp.CfgL != 0)

		if err != nil {
			return
		}
	}

	return
}

// ReadMemory implements monitor.Platform. The monitor executes in machine
// mode, guest memory is directly addressable.
func (h *Hardware) ReadMemory(addr uint64, buf []byte) error {
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(buf)))

	return nil
}

// WriteMemory implements monitor.Platform.
func (h *Hardware) WriteMemory(addr uint64, buf []byte) error {
	copy(unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(buf)), buf)

	return nil
}

// ConsoleWrite implements monitor.Platform, buffering guest output per
// originator so firmware and payload lines do not interleave.
func (h *Hardware) ConsoleWrite(c byte) {
	firmware := h.mon == nil || h.mon.Hart(0).Mode == monitor.ModeM

	util.BufferedStdoutLog(c, firmware)
}

// WaitForInterrupt implements monitor.Platform, idling the hart until its
// software interrupt fires or the timer comparator expires.
func (h *Hardware) WaitForInterrupt(hart int) {
	msip := fu540.CLINT_BASE + msipOffset + uint32(4*hart)
	cmp := fu540.CLINT_BASE + mtimecmpOffset + uint32(8*hart)

	for {
		if reg.Read(msip) != 0 {
			return
		}

		if h.Now() >= uint64(reg.Read(cmp+4))<<32|uint64(reg.Read(cmp)) {
			return
		}

		runtime.Gosched()
	}
}

// Halt implements monitor.Platform. The dispatcher returns the fatal error
// to the execution context, which stops the guest, nothing to do beyond
// recording the event.
func (h *Hardware) Halt(hart int) {
	log.Printf("SM halting hart %d", hart)
}
