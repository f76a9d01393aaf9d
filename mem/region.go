// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

import (
	"fmt"
)

// Owner tags the component a Region belongs to.
type Owner uint8

const (
	OwnerMonitor Owner = iota
	OwnerFirmware
	OwnerPayload
)

// String returns the owner tag name.
func (o Owner) String() string {
	switch o {
	case OwnerMonitor:
		return "monitor"
	case OwnerFirmware:
		return "firmware"
	case OwnerPayload:
		return "payload"
	default:
		return "unknown"
	}
}

// Perm represents a memory permission set.
type Perm uint8

const (
	PermR Perm = 1 << 0
	PermW Perm = 1 << 1
	PermX Perm = 1 << 2

	PermRW  = PermR | PermW
	PermRWX = PermR | PermW | PermX
)

// String returns the permission set in `rwx` notation.
func (p Perm) String() string {
	s := []byte("---")

	if p&PermR != 0 {
		s[0] = 'r'
	}

	if p&PermW != 0 {
		s[1] = 'w'
	}

	if p&PermX != 0 {
		s[2] = 'x'
	}

	return string(s)
}

// Region represents a physical address range with a permission set and an
// owner tag.
type Region struct {
	Start uint64
	Size  uint64
	Perm  Perm
	Owner Owner
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Start + r.Size
}

// Contains returns whether addr falls within the region.
func (r Region) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End()
}

// ContainsRange returns whether [addr, addr+size) falls entirely within the
// region.
func (r Region) ContainsRange(addr uint64, size uint64) bool {
	return addr >= r.Start && addr+size <= r.End()
}

// Overlaps returns whether [addr, addr+size) intersects the region, even
// partially.
func (r Region) Overlaps(addr uint64, size uint64) bool {
	return addr < r.End() && addr+size > r.Start
}

// String returns the region in `start-end perm owner` notation.
func (r Region) String() string {
	return fmt.Sprintf("%#.8x-%#.8x %s %s", r.Start, r.End(), r.Perm, r.Owner)
}
