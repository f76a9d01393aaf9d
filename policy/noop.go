// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package policy

import (
	"github.com/vfmon/vfmon/mem"
)

// NoOp is the default variant: plain virtualization without additional
// isolation, every operation is allowed. The monitor's own memory remains
// excluded from the real PMP view regardless, that invariant is enforced by
// the dispatcher and not subject to policy.
type NoOp struct{}

func (p *NoOp) Name() string {
	return "noop"
}

func (p *NoOp) AuthorizeMemoryAccess(hart int, from mem.Owner, addr uint64, size uint64, access mem.Perm) Decision {
	return Allowed
}

func (p *NoOp) AuthorizeEcall(hart int, from mem.Owner, eid uint64, fid uint64) Decision {
	return Allowed
}

func (p *NoOp) AuthorizeCSRWrite(hart int, from mem.Owner, csr uint16, value uint64) Decision {
	return Allowed
}

func (p *NoOp) ProtectedFrom(from mem.Owner) []mem.Region {
	return nil
}

func (p *NoOp) Version() uint64 {
	return 0
}
