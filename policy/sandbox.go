// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package policy

import (
	"github.com/vfmon/vfmon/mem"
)

// Sandbox denies firmware access to monitor-reserved memory, proving the
// monitor is isolated from a potentially hostile firmware image.
type Sandbox struct {
	reserved []mem.Region
}

// NewSandbox returns a Sandbox protecting the monitor's memory layout.
func NewSandbox() *Sandbox {
	return &Sandbox{
		reserved: []mem.Region{mem.MonitorRegion()},
	}
}

func (p *Sandbox) Name() string {
	return "sandbox"
}

func (p *Sandbox) AuthorizeMemoryAccess(hart int, from mem.Owner, addr uint64, size uint64, access mem.Perm) Decision {
	if from == mem.OwnerMonitor {
		return Allowed
	}

	for _, r := range p.reserved {
		if r.Overlaps(addr, size) {
			return Denied
		}
	}

	return Allowed
}

func (p *Sandbox) AuthorizeEcall(hart int, from mem.Owner, eid uint64, fid uint64) Decision {
	return Allowed
}

func (p *Sandbox) AuthorizeCSRWrite(hart int, from mem.Owner, csr uint16, value uint64) Decision {
	return Allowed
}

func (p *Sandbox) ProtectedFrom(from mem.Owner) []mem.Region {
	if from == mem.OwnerMonitor {
		return nil
	}

	return p.reserved
}

func (p *Sandbox) Version() uint64 {
	return 0
}
