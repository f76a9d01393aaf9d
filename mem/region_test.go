// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

import (
	"testing"
)

func TestRegionBounds(t *testing.T) {
	r := Region{Start: 0x1000, Size: 0x1000}

	if !r.Contains(0x1000) || !r.Contains(0x1fff) {
		t.Error("region excludes its own range")
	}

	if r.Contains(0xfff) || r.Contains(0x2000) {
		t.Error("region includes addresses outside its range")
	}

	if !r.ContainsRange(0x1ff8, 8) || r.ContainsRange(0x1ffc, 8) {
		t.Error("unexpected ContainsRange result")
	}

	// straddling either boundary still overlaps
	if !r.Overlaps(0xffc, 8) || !r.Overlaps(0x1ffc, 8) {
		t.Error("straddling access does not overlap")
	}

	if r.Overlaps(0x2000, 8) || r.Overlaps(0xff8, 8) {
		t.Error("adjacent access overlaps")
	}
}

func TestLayout(t *testing.T) {
	// the monitor, firmware and payload regions tile DRAM contiguously
	if MonitorRegion().End() != FirmwareStart {
		t.Errorf("gap between monitor and firmware, %#x", MonitorRegion().End())
	}

	if FirmwareRegion().End() != PayloadStart {
		t.Errorf("gap between firmware and payload, %#x", FirmwareRegion().End())
	}
}

func TestPermString(t *testing.T) {
	if s := PermRWX.String(); s != "rwx" {
		t.Errorf("unexpected permission string %q", s)
	}

	if s := (PermR | PermX).String(); s != "r-x" {
		t.Errorf("unexpected permission string %q", s)
	}
}

func TestRegionString(t *testing.T) {
	r := Region{Start: MonitorStart, Size: 0x1000, Perm: PermRW, Owner: OwnerMonitor}

	if s := r.String(); s != "0x80000000-0x80001000 rw- monitor" {
		t.Errorf("unexpected region string %q", s)
	}
}
