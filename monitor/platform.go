// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package monitor

import (
	"github.com/vfmon/vfmon/pmp"
)

// Platform is the narrow interface towards real hardware (or the
// simulator). The final resume step after trap handling is the only
// inherently target specific operation, everything else the monitor does is
// expressed against this boundary.
type Platform interface {
	// SignalSoft fires a physical inter-hart interrupt.
	SignalSoft(hart int)

	// SetTimer arms the real timer for the hart.
	SetTimer(hart int, when uint64)

	// Now returns the current timebase counter.
	Now() uint64

	// ApplyPMP commits a composed real PMP table to the hart's hardware
	// registers.
	ApplyPMP(hart int, entries []pmp.Entry) error

	// ReadMemory copies len(buf) bytes of physical memory at addr.
	ReadMemory(addr uint64, buf []byte) error

	// WriteMemory copies buf into physical memory at addr.
	WriteMemory(addr uint64, buf []byte) error

	// ConsoleWrite emits one byte on the monitor console.
	ConsoleWrite(c byte)

	// WaitForInterrupt idles the hart until an interrupt is pending.
	WaitForInterrupt(hart int)

	// Halt permanently stops the offending hart after a fatal error.
	Halt(hart int)
}
