// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package policy

import (
	"fmt"

	"github.com/vfmon/vfmon/mem"
)

// ProtectPayload maintains a sealed region owned by the payload. Once sealed
// through the dedicated ecall, firmware access to the region is denied, and
// any access whose effective range straddles the seal boundary is fully
// denied, never partially honored.
type ProtectPayload struct {
	regionTable

	sealed  mem.Region
	hasSeal bool
}

// NewProtectPayload returns a ProtectPayload variant with no sealed region.
func NewProtectPayload() *ProtectPayload {
	return &ProtectPayload{}
}

func (p *ProtectPayload) Name() string {
	return "protect"
}

// Seal implements the Sealer interface. The region must fall within the
// payload-owned memory range and can be sealed only once per boot.
func (p *ProtectPayload) Seal(r mem.Region, contents []byte) (err error) {
	if err = sealable(r); err != nil {
		return
	}

	p.Lock()
	defer p.Unlock()

	return p.seal(r)
}

// seal commits the region, the lock must be held.
func (p *ProtectPayload) seal(r mem.Region) error {
	if p.hasSeal {
		return ErrSealed
	}

	r.Owner = mem.OwnerPayload
	p.sealed = r
	p.hasSeal = true
	p.bump()

	return nil
}

func sealable(r mem.Region) error {
	if r.Size == 0 || !mem.PayloadRegion().ContainsRange(r.Start, r.Size) {
		return fmt.Errorf("%w: %#x+%#x", ErrInvalidRegion, r.Start, r.Size)
	}

	return nil
}

// SealedRegion returns the sealed region, if any.
func (p *ProtectPayload) SealedRegion() (r mem.Region, ok bool) {
	p.Lock()
	defer p.Unlock()

	return p.sealed, p.hasSeal
}

func (p *ProtectPayload) AuthorizeMemoryAccess(hart int, from mem.Owner, addr uint64, size uint64, access mem.Perm) Decision {
	if from == mem.OwnerMonitor || from == mem.OwnerPayload {
		return Allowed
	}

	p.Lock()
	defer p.Unlock()

	// Overlaps covers the straddling case: an access crossing the seal
	// boundary is denied as a whole.
	if p.hasSeal && p.sealed.Overlaps(addr, size) {
		return Denied
	}

	return Allowed
}

func (p *ProtectPayload) AuthorizeEcall(hart int, from mem.Owner, eid uint64, fid uint64) Decision {
	return Allowed
}

func (p *ProtectPayload) AuthorizeCSRWrite(hart int, from mem.Owner, csr uint16, value uint64) Decision {
	return Allowed
}

func (p *ProtectPayload) ProtectedFrom(from mem.Owner) []mem.Region {
	if from != mem.OwnerFirmware {
		return nil
	}

	p.Lock()
	defer p.Unlock()

	if !p.hasSeal {
		return nil
	}

	return []mem.Region{p.sealed}
}
