// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pmp

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vfmon/vfmon/mem"
)

func TestNormalizeCfg(t *testing.T) {
	// reserved bits 5-6 read as zero
	if cfg := NormalizeCfg(0xff); cfg != 0x9f {
		t.Errorf("expected %#x, got %#x", 0x9f, cfg)
	}

	// R=0 W=1 is reserved, W is cleared
	if cfg := NormalizeCfg(CfgW); cfg != 0 {
		t.Errorf("expected W cleared, got %#x", cfg)
	}

	if cfg := NormalizeCfg(CfgR | CfgW); cfg != CfgR|CfgW {
		t.Errorf("expected R|W kept, got %#x", cfg)
	}
}

func TestEntryRange(t *testing.T) {
	// NAPOT: 4KB page at 0x82000000
	addr, ok := napotAddr(0x82000000, 0x1000)

	if !ok {
		t.Fatal("expected NAPOT encoding")
	}

	e := Entry{Addr: addr, Cfg: ModeNAPOT << cfgModeShift}
	start, end := e.Range(0)

	if start != 0x82000000 || end != 0x82001000 {
		t.Errorf("unexpected NAPOT range %#x-%#x", start, end)
	}

	// TOR: preceding pmpaddr is the base
	e = Entry{Addr: 0x80300000 >> 2, Cfg: ModeTOR << cfgModeShift}
	start, end = e.Range(0x80000000 >> 2)

	if start != 0x80000000 || end != 0x80300000 {
		t.Errorf("unexpected TOR range %#x-%#x", start, end)
	}
}

func TestNapotAddr(t *testing.T) {
	// unaligned and non power of two sizes have no NAPOT encoding
	if _, ok := napotAddr(0x80000000, 0x3000); ok {
		t.Error("expected no encoding for non power of two size")
	}

	if _, ok := napotAddr(0x80001000, 0x2000); ok {
		t.Error("expected no encoding for unaligned start")
	}
}

func TestCompose(t *testing.T) {
	var tbl Table

	tbl.SetAddr(0, 0x88000000>>2)
	tbl.SetCfg(0, CfgR|CfgW|CfgX|ModeTOR<<cfgModeShift)

	protected := []mem.Region{mem.MonitorRegion()}

	real, err := tbl.Compose(protected, false)

	if err != nil {
		t.Fatal(err)
	}

	monitor := mem.MonitorRegion()

	expected := []Entry{
		// guard pair first, no permissions
		{Addr: monitor.Start >> 2, Cfg: 0},
		{Addr: monitor.End() >> 2, Cfg: ModeTOR << cfgModeShift},
		// TOR base reset
		{Addr: 0, Cfg: 0},
		// the virtual entry, unmodified
		{Addr: 0x88000000 >> 2, Cfg: CfgR | CfgW | CfgX | ModeTOR<<cfgModeShift},
		// catch-all grant last
		grantAll,
	}

	if diff := cmp.Diff(expected, real); diff != "" {
		t.Errorf("unexpected real table (-want +got):\n%s", diff)
	}
}

func TestComposeMachineView(t *testing.T) {
	var tbl Table

	// unlocked no-permission entry over the payload page, then a locked
	// TOR entry using the first as its base
	tbl.SetAddr(0, 0x82000000>>2)
	tbl.SetCfg(0, ModeNA4<<cfgModeShift)
	tbl.SetAddr(1, 0x82001000>>2)
	tbl.SetCfg(1, CfgL|CfgR|ModeTOR<<cfgModeShift)

	real, err := tbl.Compose(nil, true)

	if err != nil {
		t.Fatal(err)
	}

	expected := []Entry{
		{Addr: 0, Cfg: 0},
		// the unlocked entry never applies to M-mode: demoted to OFF,
		// address retained as the TOR base of the locked entry
		{Addr: 0x82000000 >> 2, Cfg: 0},
		{Addr: 0x82001000 >> 2, Cfg: CfgL | CfgR | ModeTOR<<cfgModeShift},
		grantAll,
	}

	if diff := cmp.Diff(expected, real); diff != "" {
		t.Errorf("unexpected machine view (-want +got):\n%s", diff)
	}

	// the payload view keeps every entry
	real, err = tbl.Compose(nil, false)

	if err != nil {
		t.Fatal(err)
	}

	if Allows(real, 0x82000000, 4, mem.PermR) {
		t.Error("unlocked entry dropped from the payload view")
	}
}

func TestComposeExhausted(t *testing.T) {
	var tbl Table

	for i := 0; i < HardwareEntries; i++ {
		tbl.SetAddr(i, uint64(0x80000000+i*0x1000)>>2)
		tbl.SetCfg(i, CfgR|ModeNA4<<cfgModeShift)
	}

	protected := []mem.Region{mem.MonitorRegion()}

	if err := tbl.Fits(protected); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}

	if _, err := tbl.Compose(protected, false); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
}

func TestAllowsPriority(t *testing.T) {
	monitor := mem.MonitorRegion()

	real := []Entry{
		// guard: monitor region, no permissions
		{Addr: monitor.Start >> 2, Cfg: 0},
		{Addr: monitor.End() >> 2, Cfg: ModeTOR << cfgModeShift},
		{Addr: 0, Cfg: 0},
		// firmware grants itself everything
		{Addr: 0x90000000 >> 2, Cfg: CfgR | CfgW | CfgX | ModeTOR<<cfgModeShift},
	}

	// the guard matches first even though the TOR entry also covers it
	if Allows(real, mem.MonitorStart+0x100, 8, mem.PermR) {
		t.Error("guarded access allowed")
	}

	if !Allows(real, mem.FirmwareStart, 8, mem.PermR|mem.PermW|mem.PermX) {
		t.Error("firmware access denied")
	}
}

func TestAllowsPartialMatch(t *testing.T) {
	real := []Entry{
		{Addr: (0x80001000 >> 2) | (0x1000>>3 - 1), Cfg: CfgR | CfgW | ModeNAPOT<<cfgModeShift},
	}

	// straddling the entry boundary fails the whole access
	if Allows(real, 0x80001ffc, 8, mem.PermR) {
		t.Error("partial match allowed")
	}

	if !Allows(real, 0x80001ff8, 8, mem.PermR) {
		t.Error("contained access denied")
	}
}

func TestAllowsNoMatch(t *testing.T) {
	real := []Entry{
		{Addr: (0x80000000 >> 2) | (0x1000>>3 - 1), Cfg: CfgR | ModeNAPOT<<cfgModeShift},
	}

	// an access matching no entry is denied for S/U
	if Allows(real, 0x90000000, 4, mem.PermR) {
		t.Error("unmatched access allowed")
	}

	real, err := (&Table{}).Compose(nil, false)

	if err != nil {
		t.Fatal(err)
	}

	// a composed table terminates with the full-space grant
	if !Allows(real, 0x90000000, 4, mem.PermR|mem.PermW|mem.PermX) {
		t.Error("composed table denies unprotected memory")
	}
}

func TestAllowsTORBaseReset(t *testing.T) {
	real := []Entry{
		// OFF entry: covers nothing, but resets the TOR base
		{Addr: 0x88000000 >> 2, Cfg: 0},
		{Addr: 0x90000000 >> 2, Cfg: CfgR | ModeTOR<<cfgModeShift},
	}

	// the read-only entry covers [OFF base, TOR top)
	if Allows(real, 0x88000000, 4, mem.PermW) {
		t.Error("write allowed by read-only entry")
	}

	if !Allows(real, 0x88000000, 4, mem.PermR) {
		t.Error("read within TOR range denied")
	}
}
