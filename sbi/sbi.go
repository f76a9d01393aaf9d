// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sbi defines the Supervisor Binary Interface surface the monitor
// understands: extension and function identifiers, error codes, and the
// classification of a call into monitor-provided, forwarded or denied.
//
// The monitor is not an SBI implementation, most calls are forwarded to the
// virtual firmware unmodified. Only the base extension, system reset and
// the vfmon protection extension are answered directly.
package sbi

// Standard extension identifiers, SBI specification v2.0.
const (
	EXT_BASE = 0x10
	EXT_TIME = 0x54494D45
	EXT_IPI  = 0x735049
	EXT_HSM  = 0x48534D
	EXT_SRST = 0x53525354

	// legacy shutdown, kept for pre-v0.2 firmware
	EXT_LEGACY_SHUTDOWN = 0x08
)

// Base extension functions.
const (
	BASE_GET_SPEC_VERSION = iota
	BASE_GET_IMP_ID
	BASE_GET_IMP_VERSION
	BASE_PROBE_EXT
	BASE_GET_MVENDORID
	BASE_GET_MARCHID
	BASE_GET_MIMPID
)

// System reset extension functions and reset types.
const (
	SRST_SYSTEM_RESET = 0

	SRST_TYPE_SHUTDOWN    = 0
	SRST_TYPE_COLD_REBOOT = 1
	SRST_TYPE_WARM_REBOOT = 2
)

// Protection extension, specific to this monitor ("VFMO"). It carries the
// seal and attestation operations of the ProtectPayload and Enclave policy
// variants.
const (
	EXT_VFMON = 0x56464D4F

	VFMON_SEAL    = 0
	VFMON_ATTEST  = 1
	VFMON_MEASURE = 2
)

// GoTEE secure monitor call numbers, honored when a7 is zero so TamaGo
// payload applets keep their write and exit calls working under the
// monitor.
const (
	GOTEE_SYS_EXIT      = 0
	GOTEE_SYS_WRITE     = 1
	GOTEE_SYS_NANOTIME  = 2
	GOTEE_SYS_GETRANDOM = 3
)

// SBI error codes, returned in a0.
const (
	SBI_SUCCESS               = 0
	SBI_ERR_FAILED            = -1
	SBI_ERR_NOT_SUPPORTED     = -2
	SBI_ERR_INVALID_PARAM     = -3
	SBI_ERR_DENIED            = -4
	SBI_ERR_INVALID_ADDRESS   = -5
	SBI_ERR_ALREADY_AVAILABLE = -6
)

// Implementation identifier reported through the base extension, and the
// SBI specification version implemented (v2.0).
const (
	ImpID       = 0x766d6f6e // "vmon"
	ImpVersion  = 0x00010000
	SpecVersion = 2 << 24
)

// Target classifies who answers an SBI call.
type Target int

const (
	// TargetFirmware marks calls forwarded to the virtual firmware.
	TargetFirmware Target = iota

	// TargetMonitor marks calls the monitor answers itself.
	TargetMonitor
)

// Classify returns who answers a call with the given extension identifier
// when raised by the payload. Calls raised by the firmware itself always
// terminate at the monitor, the firmware is the innermost SBI provider.
func Classify(eid uint64) Target {
	switch eid {
	case EXT_VFMON:
		return TargetMonitor
	default:
		return TargetFirmware
	}
}

// Probe returns whether the monitor itself implements the given extension,
// used to answer base-extension probes from the firmware.
func Probe(eid uint64) bool {
	switch eid {
	case EXT_BASE, EXT_SRST, EXT_VFMON, EXT_LEGACY_SHUTDOWN:
		return true
	default:
		return false
	}
}
