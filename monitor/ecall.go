// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package monitor

import (
	"crypto/rand"
	"encoding/binary"
	"log"

	"github.com/vfmon/vfmon/mem"
	"github.com/vfmon/vfmon/policy"
	"github.com/vfmon/vfmon/sbi"
)

// handleEcall classifies a supervisor binary interface call by its
// extension and function identifiers into a monitor-provided service, a
// call forwarded to the virtual firmware unmodified, or a policy denial.
func (m *Monitor) handleEcall(ctx *HartContext) error {
	eid := ctx.Regs[RegA7]
	fid := ctx.Regs[RegA6]
	from := ctx.Mode.Owner()

	if d := m.Policy.AuthorizeEcall(ctx.ID, from, eid, fid); d.Action == policy.Deny {
		return m.completeEcall(ctx, sbi.SBI_ERR_DENIED, 0)
	}

	// GoTEE call convention: a7 is zero, the syscall number is in a0
	if eid == 0 {
		return m.handleGoTEE(ctx)
	}

	if from == mem.OwnerPayload && sbi.Classify(eid) == sbi.TargetFirmware {
		// forwarded unmodified: the firmware observes the ecall
		// exception exactly as hardware would have delivered it
		m.inject(ctx, ecallCause(ctx.Mode), 0)
		return nil
	}

	switch eid {
	case sbi.EXT_BASE:
		return m.handleBase(ctx, fid)
	case sbi.EXT_SRST:
		return m.handleReset(ctx, fid)
	case sbi.EXT_LEGACY_SHUTDOWN:
		return &ShutdownError{Code: 0}
	case sbi.EXT_VFMON:
		return m.handleProtection(ctx, fid)
	default:
		return m.completeEcall(ctx, sbi.SBI_ERR_NOT_SUPPORTED, 0)
	}
}

// ecallCause maps the calling virtual mode to the matching environment
// call exception cause.
func ecallCause(mode Mode) uint64 {
	switch mode {
	case ModeU:
		return CauseEcallFromU
	case ModeS:
		return CauseEcallFromS
	default:
		return CauseEcallFromM
	}
}

// completeEcall commits the SBI return convention: error in a0, value in
// a1, resume past the ecall.
func (m *Monitor) completeEcall(ctx *HartContext, sbiErr int64, val uint64) error {
	ctx.Regs[RegA0] = uint64(sbiErr)
	ctx.Regs[RegA1] = val
	ctx.PC += 4

	return nil
}

// handleGoTEE serves the GoTEE call convention for TamaGo payloads: write,
// exit and nanotime, everything else is rejected.
func (m *Monitor) handleGoTEE(ctx *HartContext) error {
	switch ctx.Regs[RegA0] {
	case sbi.GOTEE_SYS_WRITE:
		m.Platform.ConsoleWrite(byte(ctx.Regs[RegA1]))
		ctx.PC += 4
		return nil
	case sbi.GOTEE_SYS_EXIT:
		return &ShutdownError{Code: int(ctx.Regs[RegA1])}
	case sbi.GOTEE_SYS_NANOTIME:
		return m.completeEcall(ctx, sbi.SBI_SUCCESS, m.Platform.Now())
	case sbi.GOTEE_SYS_GETRANDOM:
		return m.handleGetRandom(ctx)
	default:
		return m.completeEcall(ctx, sbi.SBI_ERR_NOT_SUPPORTED, 0)
	}
}

// maxRandomRead bounds a single getrandom request.
const maxRandomRead = 4096

// handleGetRandom fills guest memory at a1 with a2 random bytes, the
// entropy never transits through guest-accessible monitor state.
func (m *Monitor) handleGetRandom(ctx *HartContext) error {
	n := ctx.Regs[RegA2]

	if n == 0 || n > maxRandomRead {
		return m.completeEcall(ctx, sbi.SBI_ERR_INVALID_PARAM, 0)
	}

	buf := make([]byte, n)

	if _, err := rand.Read(buf); err != nil {
		return m.completeEcall(ctx, sbi.SBI_ERR_FAILED, 0)
	}

	if err := m.Platform.WriteMemory(ctx.Regs[RegA1], buf); err != nil {
		return m.completeEcall(ctx, sbi.SBI_ERR_INVALID_ADDRESS, 0)
	}

	ctx.Regs[RegA0] = n
	ctx.PC += 4

	return nil
}

// handleBase answers the SBI base extension from the virtual CSR state, so
// that probing firmware observes the monitor rather than the real SBI
// provider underneath.
func (m *Monitor) handleBase(ctx *HartContext, fid uint64) error {
	switch fid {
	case sbi.BASE_GET_SPEC_VERSION:
		return m.completeEcall(ctx, sbi.SBI_SUCCESS, sbi.SpecVersion)
	case sbi.BASE_GET_IMP_ID:
		return m.completeEcall(ctx, sbi.SBI_SUCCESS, sbi.ImpID)
	case sbi.BASE_GET_IMP_VERSION:
		return m.completeEcall(ctx, sbi.SBI_SUCCESS, sbi.ImpVersion)
	case sbi.BASE_PROBE_EXT:
		if sbi.Probe(ctx.Regs[RegA0]) {
			return m.completeEcall(ctx, sbi.SBI_SUCCESS, 1)
		}

		return m.completeEcall(ctx, sbi.SBI_SUCCESS, 0)
	case sbi.BASE_GET_MVENDORID, sbi.BASE_GET_MARCHID, sbi.BASE_GET_MIMPID:
		return m.completeEcall(ctx, sbi.SBI_SUCCESS, 0)
	default:
		return m.completeEcall(ctx, sbi.SBI_ERR_NOT_SUPPORTED, 0)
	}
}

// handleReset honors the shutdown ecall the test harness contracts on,
// reporting the reset reason as exit code.
func (m *Monitor) handleReset(ctx *HartContext, fid uint64) error {
	if fid != sbi.SRST_SYSTEM_RESET {
		return m.completeEcall(ctx, sbi.SBI_ERR_NOT_SUPPORTED, 0)
	}

	switch ctx.Regs[RegA0] {
	case sbi.SRST_TYPE_SHUTDOWN:
		return &ShutdownError{Code: int(ctx.Regs[RegA1])}
	default:
		return m.completeEcall(ctx, sbi.SBI_ERR_NOT_SUPPORTED, 0)
	}
}

// handleProtection implements the vfmon protection extension: sealing a
// payload region and attesting its measurement.
func (m *Monitor) handleProtection(ctx *HartContext, fid uint64) error {
	switch fid {
	case sbi.VFMON_SEAL:
		return m.handleSeal(ctx)
	case sbi.VFMON_ATTEST:
		return m.handleAttest(ctx)
	case sbi.VFMON_MEASURE:
		attester, ok := m.Policy.(policy.Attester)

		if !ok {
			return m.completeEcall(ctx, sbi.SBI_ERR_NOT_SUPPORTED, 0)
		}

		if mval, sealed := attester.Measurement(); sealed {
			return m.completeEcall(ctx, sbi.SBI_SUCCESS, uint64(len(mval)))
		}

		return m.completeEcall(ctx, sbi.SBI_ERR_FAILED, 0)
	default:
		return m.completeEcall(ctx, sbi.SBI_ERR_NOT_SUPPORTED, 0)
	}
}

// handleSeal freezes the payload region passed in a0/a1 under the active
// policy and propagates the new protection set to every hart.
func (m *Monitor) handleSeal(ctx *HartContext) error {
	sealer, ok := m.Policy.(policy.Sealer)

	if !ok {
		return m.completeEcall(ctx, sbi.SBI_ERR_NOT_SUPPORTED, 0)
	}

	region := mem.Region{
		Start: ctx.Regs[RegA0],
		Size:  ctx.Regs[RegA1],
		Perm:  mem.PermRWX,
		Owner: mem.OwnerPayload,
	}

	contents := make([]byte, region.Size)

	if err := m.Platform.ReadMemory(region.Start, contents); err != nil {
		return m.completeEcall(ctx, sbi.SBI_ERR_INVALID_ADDRESS, 0)
	}

	if err := sealer.Seal(region, contents); err != nil {
		log.Printf("SM hart %d seal rejected, %v", ctx.ID, err)
		return m.completeEcall(ctx, sbi.SBI_ERR_INVALID_PARAM, 0)
	}

	// commit this hart's view now, peers observe the version bump at
	// their next trap; the notification makes that prompt
	if err := m.applyPMP(ctx); err != nil {
		log.Printf("SM hart %d could not apply seal, %v", ctx.ID, err)
	}

	for _, peer := range m.Harts {
		if peer.ID != ctx.ID {
			m.Platform.SignalSoft(peer.ID)
		}
	}

	return m.completeEcall(ctx, sbi.SBI_SUCCESS, 0)
}

// handleAttest returns the a0'th 8-byte word of the seal-time measurement
// in a1.
func (m *Monitor) handleAttest(ctx *HartContext) error {
	attester, ok := m.Policy.(policy.Attester)

	if !ok {
		return m.completeEcall(ctx, sbi.SBI_ERR_NOT_SUPPORTED, 0)
	}

	mval, sealed := attester.Measurement()

	if !sealed {
		return m.completeEcall(ctx, sbi.SBI_ERR_FAILED, 0)
	}

	word := int(ctx.Regs[RegA0])

	if word < 0 || (word+1)*8 > len(mval) {
		return m.completeEcall(ctx, sbi.SBI_ERR_INVALID_PARAM, 0)
	}

	return m.completeEcall(ctx, sbi.SBI_SUCCESS, binary.LittleEndian.Uint64(mval[word*8:]))
}
