// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

// Default memory layout, matching the qemu sifive_u and virt machines. The
// monitor claims the first portion of DRAM, the virtual firmware is loaded
// right after it and the payload on top of the firmware.
const (
	// Security Monitor
	MonitorStart = 0x80000000
	MonitorSize  = 0x00200000 // 2MB

	// Security Monitor DMA (relocated to avoid conflicts with firmware)
	MonitorDMAStart = 0x80200000
	MonitorDMASize  = 0x00100000 // 1MB

	// Virtual firmware (guest M-mode software)
	FirmwareStart = 0x80300000
	FirmwareSize  = 0x01d00000 // 29MB

	// Payload (guest S/U-mode software)
	PayloadStart = 0x82000000
	PayloadSize  = 0x02000000 // 32MB
)

// MonitorRegion returns the monitor-owned memory range, including its DMA
// reservation.
func MonitorRegion() Region {
	return Region{
		Start: MonitorStart,
		Size:  MonitorSize + MonitorDMASize,
		Perm:  PermRWX,
		Owner: OwnerMonitor,
	}
}

// FirmwareRegion returns the memory range assigned to the virtual firmware.
func FirmwareRegion() Region {
	return Region{
		Start: FirmwareStart,
		Size:  FirmwareSize,
		Perm:  PermRWX,
		Owner: OwnerFirmware,
	}
}

// PayloadRegion returns the memory range assigned to the payload.
func PayloadRegion() Region {
	return Region{
		Start: PayloadStart,
		Size:  PayloadSize,
		Perm:  PermRWX,
		Owner: OwnerPayload,
	}
}
