// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sim provides a small RV64 machine for running the monitor on a
// development host. Guest code executes under an interpreter at effective
// user privilege: every privileged instruction, environment call and
// protection fault suspends the guest and enters the monitor dispatcher,
// exactly as the hardware trap vector would on a real platform.
//
// The machine implements monitor.Platform, so the monitor core is byte for
// byte the one deployed on hardware.
package sim

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vfmon/vfmon/mem"
	"github.com/vfmon/vfmon/monitor"
	"github.com/vfmon/vfmon/pmp"
	"github.com/vfmon/vfmon/policy"
)

// DefaultRAMSize covers the monitor, firmware and payload regions of the
// memory layout.
const DefaultRAMSize = 64 * 1024 * 1024

// ErrHalted reports that every hart stopped without a shutdown request.
var ErrHalted = errors.New("all harts halted without shutdown request")

// Machine is a multi-hart RV64 interpreter wired to a Monitor instance. One
// goroutine per hart executes guest instructions and calls into the monitor
// at every trap, mirroring the per-hart trap vectors of a real system.
type Machine struct {
	Mon *monitor.Monitor

	ram  []byte
	base uint64

	harts []*simHart

	consoleMu sync.Mutex
	console   bytes.Buffer

	cycles atomic.Uint64

	exited   atomic.Bool
	exitCode atomic.Int64
	done     chan struct{}
	exitOnce sync.Once
}

// simHart holds the per-hart platform state: the committed real PMP view
// and the physical interrupt lines.
type simHart struct {
	id int

	pendingSoft atomic.Bool
	timerArmed  atomic.Bool
	timerAt     atomic.Uint64
	halted      atomic.Bool

	wake chan struct{}

	pmpMu sync.Mutex
	real  []pmp.Entry
}

// New returns a machine with the given number of harts, all entering
// firmware at entry, governed by the given policy.
func New(harts int, entry uint64, pol policy.Policy) *Machine {
	m := &Machine{
		ram:  make([]byte, DefaultRAMSize),
		base: mem.MonitorStart,
		done: make(chan struct{}),
	}

	for i := 0; i < harts; i++ {
		m.harts = append(m.harts, &simHart{
			id:   i,
			wake: make(chan struct{}, 1),
		})
	}

	m.Mon = monitor.New(harts, entry, 0, pol, m)

	return m
}

// Load copies an image into guest memory.
func (m *Machine) Load(addr uint64, image []byte) error {
	if addr < m.base || addr+uint64(len(image)) > m.base+uint64(len(m.ram)) {
		return fmt.Errorf("image of %d bytes at %#x outside RAM", len(image), addr)
	}

	copy(m.ram[addr-m.base:], image)

	return nil
}

// Console returns everything the guest wrote to the monitor console.
func (m *Machine) Console() string {
	m.consoleMu.Lock()
	defer m.consoleMu.Unlock()

	return m.console.String()
}

// Run applies the boot protection state and executes all harts to
// completion, returning the exit code of the guest's shutdown request.
func (m *Machine) Run() (code int, err error) {
	if err = m.Mon.Init(); err != nil {
		return
	}

	var wg sync.WaitGroup

	for _, h := range m.harts {
		wg.Add(1)

		go func(h *simHart) {
			defer wg.Done()
			m.run(h, m.Mon.Hart(h.id))
		}(h)
	}

	wg.Wait()

	if !m.exited.Load() {
		return 0, ErrHalted
	}

	return int(m.exitCode.Load()), nil
}

// run is the per-hart execution loop: deliver expired physical interrupt
// lines, execute one instruction, enter the monitor whenever the
// instruction traps.
func (m *Machine) run(h *simHart, ctx *monitor.HartContext) {
	for {
		if m.exited.Load() || h.halted.Load() {
			return
		}

		if h.pendingSoft.Swap(false) {
			if !m.trap(ctx, monitor.Trap{MCause: monitor.CauseInterrupt | monitor.IntMachineSoft}) {
				return
			}

			continue
		}

		if h.timerArmed.Load() && m.cycles.Load() >= h.timerAt.Load() {
			h.timerArmed.Store(false)

			if !m.trap(ctx, monitor.Trap{MCause: monitor.CauseInterrupt | monitor.IntMachineTimer}) {
				return
			}

			continue
		}

		m.cycles.Add(1)

		if t, trapped := m.step(h, ctx); trapped {
			if !m.trap(ctx, t) {
				return
			}
		}
	}
}

// trap enters the monitor dispatcher, returning whether the hart should
// keep running.
func (m *Machine) trap(ctx *monitor.HartContext, t monitor.Trap) bool {
	err := m.Mon.Handle(ctx, t)

	if err == nil {
		return true
	}

	var shutdown *monitor.ShutdownError

	if errors.As(err, &shutdown) {
		m.shutdown(shutdown.Code)
	}

	return false
}

func (m *Machine) shutdown(code int) {
	m.exitOnce.Do(func() {
		m.exitCode.Store(int64(code))
		m.exited.Store(true)
		close(m.done)
	})
}

// advanceTo raises the cycle counter to at least target, used when the only
// runnable work is a parked hart waiting on its timer.
func (m *Machine) advanceTo(target uint64) {
	for {
		now := m.cycles.Load()

		if now >= target || m.cycles.CompareAndSwap(now, target) {
			return
		}
	}
}

// SignalSoft implements monitor.Platform.
func (m *Machine) SignalSoft(hart int) {
	h := m.harts[hart]
	h.pendingSoft.Store(true)

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// SetTimer implements monitor.Platform.
func (m *Machine) SetTimer(hart int, when uint64) {
	h := m.harts[hart]
	h.timerAt.Store(when)
	h.timerArmed.Store(true)

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Now implements monitor.Platform. The timebase is the global retired
// instruction count, which keeps timer tests deterministic.
func (m *Machine) Now() uint64 {
	return m.cycles.Load()
}

// ApplyPMP implements monitor.Platform.
func (m *Machine) ApplyPMP(hart int, entries []pmp.Entry) error {
	h := m.harts[hart]

	h.pmpMu.Lock()
	defer h.pmpMu.Unlock()

	h.real = append(h.real[:0], entries...)

	return nil
}

// ReadMemory implements monitor.Platform. Monitor reads are not subject to
// the guest protection view.
func (m *Machine) ReadMemory(addr uint64, buf []byte) error {
	if addr < m.base || addr+uint64(len(buf)) > m.base+uint64(len(m.ram)) {
		return fmt.Errorf("read of %d bytes at %#x outside RAM", len(buf), addr)
	}

	copy(buf, m.ram[addr-m.base:])

	return nil
}

// WriteMemory implements monitor.Platform.
func (m *Machine) WriteMemory(addr uint64, buf []byte) error {
	if addr < m.base || addr+uint64(len(buf)) > m.base+uint64(len(m.ram)) {
		return fmt.Errorf("write of %d bytes at %#x outside RAM", len(buf), addr)
	}

	copy(m.ram[addr-m.base:], buf)

	return nil
}

// ConsoleWrite implements monitor.Platform.
func (m *Machine) ConsoleWrite(c byte) {
	m.consoleMu.Lock()
	defer m.consoleMu.Unlock()

	m.console.WriteByte(c)
}

// WaitForInterrupt implements monitor.Platform. A hart parked with an armed
// timer and no other runnable work advances the timebase to the deadline,
// otherwise it sleeps until a peer signals it.
func (m *Machine) WaitForInterrupt(hart int) {
	h := m.harts[hart]

	for {
		if m.exited.Load() || h.halted.Load() || h.pendingSoft.Load() {
			return
		}

		if h.timerArmed.Load() {
			at := h.timerAt.Load()

			if m.cycles.Load() >= at {
				return
			}

			m.advanceTo(at)

			return
		}

		select {
		case <-h.wake:
		case <-m.done:
			return
		}
	}
}

// Halt implements monitor.Platform.
func (m *Machine) Halt(hart int) {
	m.harts[hart].halted.Store(true)
}

// allowed checks a guest access against the hart's committed real PMP
// table.
func (h *simHart) allowed(addr uint64, size uint64, perm mem.Perm) bool {
	h.pmpMu.Lock()
	defer h.pmpMu.Unlock()

	return pmp.Allows(h.real, addr, size, perm)
}
