// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pmp implements virtualization of the RISC-V Physical Memory
// Protection unit.
//
// The monitor maintains two views of the PMP table: the virtual view, which
// the firmware believes it fully controls and reads back unmodified, and the
// real view applied to hardware, where monitor and policy protected ranges
// are excluded ahead of any firmware entry. PMP entries match in priority
// order, placing no-permission guard entries first guarantees that no
// firmware configuration can reach a protected range.
package pmp

import (
	"errors"

	"github.com/vfmon/vfmon/mem"
)

// Hardware entry budget, per the SiFive FU540 and the qemu virt machine.
const HardwareEntries = 16

// pmpcfg bit layout, RISC-V privileged specification v1.12.
const (
	CfgR = 1 << 0
	CfgW = 1 << 1
	CfgX = 1 << 2
	CfgL = 1 << 7

	// address matching modes, bits 3-4
	ModeOff   = 0x0
	ModeTOR   = 0x1
	ModeNA4   = 0x2
	ModeNAPOT = 0x3

	cfgModeShift = 3
	cfgModeMask  = 0x3 << cfgModeShift

	// bits 5-6 are WARL reserved and read as zero
	cfgWritableMask = CfgR | CfgW | CfgX | cfgModeMask | CfgL
)

// ErrExhausted is returned when the virtual entries plus the protection
// guard entries no longer fit the hardware table.
var ErrExhausted = errors.New("PMP slots exhausted")

// Entry is a single PMP entry as a (pmpaddr, pmpcfg byte) pair, in the
// architectural encoding (pmpaddr holds bits 55:2 of the address).
type Entry struct {
	Addr uint64
	Cfg  byte
}

// Mode returns the address matching mode of the entry.
func (e Entry) Mode() int {
	return int(e.Cfg&cfgModeMask) >> cfgModeShift
}

// Range decodes the address range covered by the entry. prev is the pmpaddr
// value of the preceding entry, used as the TOR base (zero for entry 0).
// OFF entries cover no range.
func (e Entry) Range(prev uint64) (start uint64, end uint64) {
	switch e.Mode() {
	case ModeOff:
		return 0, 0
	case ModeTOR:
		return prev << 2, e.Addr << 2
	case ModeNA4:
		start = e.Addr << 2
		return start, start + 4
	default: // NAPOT
		// the number of trailing ones encodes the region size
		t := trailingOnes(e.Addr)
		size := uint64(1) << (t + 3)
		start = (e.Addr &^ (size>>2 - 1)) << 2
		return start, start + size
	}
}

func trailingOnes(v uint64) (n uint) {
	for v&1 == 1 {
		n++
		v >>= 1
	}

	return
}

// NormalizeCfg applies the WARL semantics of a pmpcfg byte: reserved bits
// read as zero and the reserved R=0,W=1 combination is normalized by
// clearing W.
func NormalizeCfg(cfg byte) byte {
	cfg &= cfgWritableMask

	if cfg&CfgR == 0 && cfg&CfgW != 0 {
		cfg &^= CfgW
	}

	return cfg
}

// Table holds one hart's virtual PMP view.
type Table struct {
	entries [HardwareEntries]Entry
}

// SetAddr updates the pmpaddr register of a virtual entry. The value is
// stored unmodified so that firmware reads back exactly what it wrote.
func (t *Table) SetAddr(i int, addr uint64) {
	t.entries[i].Addr = addr
}

// Addr returns the pmpaddr register of a virtual entry.
func (t *Table) Addr(i int) uint64 {
	return t.entries[i].Addr
}

// SetCfg updates the pmpcfg byte of a virtual entry, normalized per WARL
// semantics.
func (t *Table) SetCfg(i int, cfg byte) {
	t.entries[i].Cfg = NormalizeCfg(cfg)
}

// Cfg returns the pmpcfg byte of a virtual entry.
func (t *Table) Cfg(i int) byte {
	return t.entries[i].Cfg
}

// Entries returns a copy of the virtual entries.
func (t *Table) Entries() [HardwareEntries]Entry {
	return t.entries
}

// active returns the number of virtual entries with a matching mode other
// than OFF.
func (t *Table) active() (n int) {
	for _, e := range t.entries {
		if e.Mode() != ModeOff {
			n++
		}
	}

	return
}

// Fits reports whether the virtual table combined with guard entries for
// the given protected regions still fits the hardware budget, it is checked
// before committing any virtual PMP write.
func (t *Table) Fits(protected []mem.Region) error {
	guards := len(guardEntries(protected))

	// one OFF entry separates guards from firmware entries resetting the
	// TOR base address, one grant entry terminates the table
	if guards+2+t.active() > HardwareEntries {
		return ErrExhausted
	}

	return nil
}

// grantAll is the lowest priority entry of every composed table, covering
// the full physical address space. On hardware an S/U access matching no
// implemented entry is denied, so protected ranges are excluded through the
// higher priority guards and everything else granted here.
var grantAll = Entry{
	Addr: 1<<54 - 1,
	Cfg:  CfgR | CfgW | CfgX | ModeNAPOT<<cfgModeShift,
}

// Compose computes the real hardware table for one executing owner: guard
// entries excluding every protected region first, then a TOR base reset,
// then the virtual entries, then the catch-all grant.
//
// machine selects the virtual machine mode view: an unlocked entry never
// applies to M-mode, so it is demoted to OFF, keeping its address so that a
// following locked TOR entry retains its base. The payload view keeps every
// entry.
func (t *Table) Compose(protected []mem.Region, machine bool) ([]Entry, error) {
	guards := guardEntries(protected)
	real := make([]Entry, 0, HardwareEntries)

	real = append(real, guards...)

	// reset the TOR base so that a firmware TOR entry in slot 0 keeps
	// its architectural meaning
	real = append(real, Entry{Addr: 0, Cfg: ModeOff << cfgModeShift})

	for _, e := range t.entries {
		if e.Mode() == ModeOff {
			continue
		}

		if machine && e.Cfg&CfgL == 0 {
			e.Cfg &^= cfgModeMask
		}

		real = append(real, e)
	}

	real = append(real, grantAll)

	if len(real) > HardwareEntries {
		return nil, ErrExhausted
	}

	return real, nil
}

// guardEntries encodes protected regions as no-permission entries. Power of
// two aligned regions take a single NAPOT entry, others a TOR pair.
func guardEntries(protected []mem.Region) (guards []Entry) {
	for _, r := range protected {
		if r.Size == 0 {
			continue
		}

		if napot, ok := napotAddr(r.Start, r.Size); ok {
			guards = append(guards, Entry{
				Addr: napot,
				Cfg:  ModeNAPOT << cfgModeShift,
			})
			continue
		}

		guards = append(guards,
			Entry{Addr: r.Start >> 2, Cfg: ModeOff << cfgModeShift},
			Entry{Addr: r.End() >> 2, Cfg: ModeTOR << cfgModeShift},
		)
	}

	return
}

// napotAddr encodes a naturally aligned power of two region as a NAPOT
// pmpaddr value.
func napotAddr(start uint64, size uint64) (addr uint64, ok bool) {
	if size < 8 || size&(size-1) != 0 || start%size != 0 {
		return 0, false
	}

	return (start >> 2) | (size>>3 - 1), true
}

// Allows checks an access of size bytes at addr against a composed real
// table, mirroring the hardware matching logic for S/U mode: the first
// matching entry decides, an access matching no entry is denied. Composed
// tables end with a full-space grant, so the deny is reachable only on a
// truncated table.
func Allows(real []Entry, addr uint64, size uint64, perm mem.Perm) bool {
	var prev uint64

	for _, e := range real {
		start, end := e.Range(prev)
		prev = e.Addr

		if e.Mode() == ModeOff {
			continue
		}

		if addr >= end || addr+size <= start {
			continue
		}

		// partial matches fail the whole access
		if addr < start || addr+size > end {
			return false
		}

		return permitted(e.Cfg, perm)
	}

	return false
}

func permitted(cfg byte, perm mem.Perm) bool {
	if perm&mem.PermR != 0 && cfg&CfgR == 0 {
		return false
	}

	if perm&mem.PermW != 0 && cfg&CfgW == 0 {
		return false
	}

	if perm&mem.PermX != 0 && cfg&CfgX == 0 {
		return false
	}

	return true
}
