// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && riscv64
// +build tamago,riscv64

package mem

import (
	"github.com/usbarmory/tamago/dma"
)

var (
	FirmwareDMA *dma.Region
	PayloadDMA  *dma.Region
)

// Init reserves the firmware and payload load regions, keeping them out of
// the monitor's own heap.
func Init() {
	FirmwareDMA, _ = dma.NewRegion(FirmwareStart, FirmwareSize, false)
	FirmwareDMA.Reserve(FirmwareSize, 0)

	PayloadDMA, _ = dma.NewRegion(PayloadStart, PayloadSize, false)
	PayloadDMA.Reserve(PayloadSize, 0)
}
