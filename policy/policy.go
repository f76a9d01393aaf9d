// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package policy implements the monitor's pluggable security policy engine.
//
// A single policy variant is selected at boot and consulted before any
// operation that affects isolation: memory access, ecall, CSR write. A Deny
// decision never halts the monitor, the dispatcher converts it to the most
// specific virtual exception applicable to the attempted operation.
package policy

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vfmon/vfmon/mem"
)

var (
	ErrUnknownVariant = errors.New("unknown policy variant")
	ErrSealed         = errors.New("region already sealed")
	ErrNotSealed      = errors.New("no sealed region")
	ErrInvalidRegion  = errors.New("invalid region")
)

// Action is the verdict of a policy check.
type Action int

const (
	Allow Action = iota
	Deny
	Emulate
)

// Decision is the result of a policy check. An Emulate action carries the
// value to substitute for the operation's outcome.
type Decision struct {
	Action Action
	Value  uint64
}

// Allowed is the pass-through decision.
var Allowed = Decision{Action: Allow}

// Denied is the refusal decision.
var Denied = Decision{Action: Deny}

// Emulated returns an Emulate decision substituting val.
func Emulated(val uint64) Decision {
	return Decision{Action: Emulate, Value: val}
}

// Policy is the capability set every isolation variant implements. Exactly
// one instance is active per boot, with no runtime switching.
type Policy interface {
	// Name returns the variant name.
	Name() string

	// AuthorizeMemoryAccess checks an emulated or trapped memory access
	// of size bytes at addr, performed by the given owner.
	AuthorizeMemoryAccess(hart int, from mem.Owner, addr uint64, size uint64, access mem.Perm) Decision

	// AuthorizeEcall checks an SBI call by extension/function identifier.
	AuthorizeEcall(hart int, from mem.Owner, eid uint64, fid uint64) Decision

	// AuthorizeCSRWrite checks a virtual CSR write.
	AuthorizeCSRWrite(hart int, from mem.Owner, csr uint16, value uint64) Decision

	// ProtectedFrom returns the regions that must be excluded from the
	// real PMP view while the given owner executes.
	ProtectedFrom(from mem.Owner) []mem.Region

	// Version increases on every protected-region change, letting other
	// harts detect stale hardware PMP state at their next trap.
	Version() uint64
}

// Sealer is implemented by variants supporting the seal ecall.
type Sealer interface {
	// Seal freezes the given payload-owned region. contents is the
	// region's memory at seal time, made available for measurement.
	Seal(r mem.Region, contents []byte) error
}

// Attester is implemented by variants exposing an attestation measurement.
type Attester interface {
	// Measurement returns the cryptographic measurement taken at seal
	// time.
	Measurement() (m []byte, ok bool)
}

// New returns the policy variant selected by the boot profile.
func New(variant string) (Policy, error) {
	switch variant {
	case "", "noop":
		return &NoOp{}, nil
	case "sandbox":
		return NewSandbox(), nil
	case "protect":
		return NewProtectPayload(), nil
	case "enclave":
		return NewEnclave(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
}

// regionTable tracks mutable protected-region state shared across harts.
// The mutex is held only for the duration of table mutation, never across a
// trap boundary.
type regionTable struct {
	sync.Mutex
	version atomic.Uint64
}

func (t *regionTable) bump() {
	t.version.Add(1)
}

// Version implements the Policy interface.
func (t *regionTable) Version() uint64 {
	return t.version.Load()
}
