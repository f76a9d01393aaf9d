// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package clint implements a virtual Core Local Interruptor.
//
// Firmware sees a standard CLINT at the architectural base address while the
// monitor retains control of the real timer and inter-hart notification
// hardware. Memory mapped accesses to the virtual device are trapped by the
// monitor and redirected here.
package clint

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/vfmon/vfmon/mem"
)

// Virtual CLINT register map, matching the SiFive memory layout.
const (
	Base = 0x02000000
	Size = 0x00010000

	msipOffset     = 0x0000
	mtimecmpOffset = 0x4000
	mtimeOffset    = 0xbff8
)

var ErrInvalidAccess = errors.New("invalid CLINT access")

// Notifier abstracts the real notification hardware behind the virtual
// controller. SignalSoft must deliver a physical inter-hart interrupt so the
// target hart reaches a trap-eligible point, SetTimer arms the real timer.
type Notifier interface {
	SignalSoft(hart int)
	SetTimer(hart int, when uint64)
	Now() uint64
}

// Controller is the virtual CLINT shared by all harts. The msip and timer
// slots are the only cross-hart mutable state, accessed atomically: a sender
// commits the slot before firing the physical notification, the owning hart
// consumes it atomically at delivery time so an interrupt is neither lost
// nor delivered twice.
type Controller struct {
	notifier Notifier

	msip     []atomic.Uint32
	timer    []atomic.Uint32
	mtimecmp []atomic.Uint64
}

// New returns a virtual CLINT for the given number of harts.
func New(harts int, notifier Notifier) *Controller {
	c := &Controller{
		notifier: notifier,
		msip:     make([]atomic.Uint32, harts),
		timer:    make([]atomic.Uint32, harts),
		mtimecmp: make([]atomic.Uint64, harts),
	}

	for i := range c.mtimecmp {
		c.mtimecmp[i].Store(^uint64(0))
	}

	return c
}

// Contains returns whether addr falls within the virtual CLINT range.
func (c *Controller) Contains(addr uint64) bool {
	return addr >= Base && addr < Base+Size
}

// Region returns the MMIO range of the virtual device. The range is kept
// out of the real PMP grants so that every guest access traps back here.
func (c *Controller) Region() mem.Region {
	return mem.Region{Start: Base, Size: Size, Owner: mem.OwnerMonitor}
}

// RaiseSoft records a pending software interrupt for the target hart and
// fires the physical notification. The slot update is committed (atomic
// store) before the notification so that the interrupt is guaranteed
// visible at the target's next trap check.
func (c *Controller) RaiseSoft(hart int) error {
	if hart < 0 || hart >= len(c.msip) {
		return fmt.Errorf("%w: no hart %d", ErrInvalidAccess, hart)
	}

	c.msip[hart].Store(1)
	c.notifier.SignalSoft(hart)

	return nil
}

// ClearSoft clears the pending software interrupt of the target hart.
func (c *Controller) ClearSoft(hart int) {
	c.msip[hart].Store(0)
}

// SoftPending returns whether a software interrupt is pending for hart.
func (c *Controller) SoftPending(hart int) bool {
	return c.msip[hart].Load() != 0
}

// TimerPending returns whether the hart's timer comparator has expired,
// latching the expiry.
func (c *Controller) TimerPending(hart int) bool {
	if c.timer[hart].Load() != 0 {
		return true
	}

	if c.notifier.Now() >= c.mtimecmp[hart].Load() {
		c.timer[hart].Store(1)
		return true
	}

	return false
}

// Load emulates a read of size bytes from the virtual CLINT.
func (c *Controller) Load(addr uint64, size int) (val uint64, err error) {
	off := addr - Base

	switch {
	case off >= msipOffset && off < msipOffset+uint64(len(c.msip))*4:
		if size != 4 || off%4 != 0 {
			return 0, fmt.Errorf("%w: msip load size %d", ErrInvalidAccess, size)
		}

		return uint64(c.msip[(off-msipOffset)/4].Load()), nil
	case off >= mtimecmpOffset && off < mtimecmpOffset+uint64(len(c.mtimecmp))*8:
		if size != 8 || off%8 != 0 {
			return 0, fmt.Errorf("%w: mtimecmp load size %d", ErrInvalidAccess, size)
		}

		return c.mtimecmp[(off-mtimecmpOffset)/8].Load(), nil
	case off == mtimeOffset:
		if size != 8 {
			return 0, fmt.Errorf("%w: mtime load size %d", ErrInvalidAccess, size)
		}

		return c.notifier.Now(), nil
	default:
		return 0, fmt.Errorf("%w: load at %#x", ErrInvalidAccess, addr)
	}
}

// Store emulates a write of size bytes to the virtual CLINT. A write
// raising msip for another hart triggers an actual cross-hart notification.
func (c *Controller) Store(addr uint64, size int, val uint64) (err error) {
	off := addr - Base

	switch {
	case off >= msipOffset && off < msipOffset+uint64(len(c.msip))*4:
		if size != 4 || off%4 != 0 {
			return fmt.Errorf("%w: msip store size %d", ErrInvalidAccess, size)
		}

		hart := int((off - msipOffset) / 4)

		if val&1 != 0 {
			return c.RaiseSoft(hart)
		}

		c.ClearSoft(hart)
		return nil
	case off >= mtimecmpOffset && off < mtimecmpOffset+uint64(len(c.mtimecmp))*8:
		if size != 8 || off%8 != 0 {
			return fmt.Errorf("%w: mtimecmp store size %d", ErrInvalidAccess, size)
		}

		hart := int((off - mtimecmpOffset) / 8)

		c.mtimecmp[hart].Store(val)
		c.timer[hart].Store(0)
		c.notifier.SetTimer(hart, val)

		return nil
	default:
		return fmt.Errorf("%w: store at %#x", ErrInvalidAccess, addr)
	}
}
