// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package monitor

import (
	"fmt"
	"log"

	"github.com/vfmon/vfmon/clint"
	"github.com/vfmon/vfmon/mem"
	"github.com/vfmon/vfmon/pmp"
	"github.com/vfmon/vfmon/policy"
)

// Monitor is the process-wide registry: one HartContext per hart, the
// active policy, the virtual interrupt controller and the platform
// boundary. Each hart exclusively mutates its own context, only the
// PendingInterrupt slots and the protected-region table are shared.
type Monitor struct {
	Harts    []*HartContext
	Policy   policy.Policy
	CLINT    *clint.Controller
	Platform Platform
}

// ShutdownError reports that the guest requested a system shutdown through
// the reset ecall, carrying the exit code for the harness.
type ShutdownError struct {
	Code int
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown requested, exit code %d", e.Code)
}

// FatalError reports an unsupported trap cause: a monitor capability gap,
// not a guest bug. The offending hart is halted, others continue.
type FatalError struct {
	Hart  int
	Cause uint64
	PC    uint64
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("hart %d: unsupported trap cause %#x pc:%#x", e.Hart, e.Cause, e.PC)
}

// New returns a Monitor with boot-state contexts for the given number of
// harts, all starting the firmware at entry with the device tree blob
// address dtb.
func New(harts int, entry uint64, dtb uint64, pol policy.Policy, plat Platform) *Monitor {
	m := &Monitor{
		Policy:   pol,
		Platform: plat,
		CLINT:    clint.New(harts, plat),
	}

	for i := 0; i < harts; i++ {
		m.Harts = append(m.Harts, newHartContext(i, entry, dtb))
	}

	return m
}

// Hart returns the context of the given hart.
func (m *Monitor) Hart(id int) *HartContext {
	return m.Harts[id]
}

// Init applies the boot PMP view for every hart. It must run before the
// first entry into firmware.
func (m *Monitor) Init() (err error) {
	for _, ctx := range m.Harts {
		if err = m.applyPMP(ctx); err != nil {
			return fmt.Errorf("SM could not apply boot PMP for hart %d, %v", ctx.ID, err)
		}
	}

	return
}

// protectedFrom returns the regions the real PMP must exclude while the
// given owner executes: the monitor's own memory and the virtual CLINT
// range unconditionally, plus whatever the active policy protects.
func (m *Monitor) protectedFrom(from mem.Owner) []mem.Region {
	protected := []mem.Region{mem.MonitorRegion(), m.CLINT.Region()}
	return append(protected, m.Policy.ProtectedFrom(from)...)
}

// applyPMP recomputes and commits the hart's real PMP table from its
// virtual view and the current protection set. If the combination exceeds
// the hardware budget (possible when a seal lands after firmware filled the
// table) the firmware's entries are dropped in favor of the guard entries:
// over-restriction is recoverable by the guest, exposure is not.
func (m *Monitor) applyPMP(ctx *HartContext) (err error) {
	protected := m.protectedFrom(ctx.Mode.Owner())
	machine := ctx.Mode == ModeM

	real, err := ctx.PMP.Compose(protected, machine)

	if err != nil {
		log.Printf("SM hart %d PMP overflow, falling back to guard-only table", ctx.ID)

		guardOnly := pmp.Table{}

		if real, err = guardOnly.Compose(protected, machine); err != nil {
			return
		}
	}

	ctx.policyVersion = m.Policy.Version()

	return m.Platform.ApplyPMP(ctx.ID, real)
}

// refreshProtection re-applies the hart's real PMP table when another hart
// changed the protected-region set since this hart last committed it.
func (m *Monitor) refreshProtection(ctx *HartContext) {
	if ctx.policyVersion == m.Policy.Version() {
		return
	}

	if err := m.applyPMP(ctx); err != nil {
		log.Printf("SM hart %d could not refresh protection, %v", ctx.ID, err)
	}
}
