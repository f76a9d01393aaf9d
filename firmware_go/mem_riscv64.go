// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && riscv64
// +build tamago,riscv64

package main

import (
	_ "unsafe"

	"github.com/vfmon/vfmon/mem"
)

//go:linkname ramStart runtime/goos.RamStart
var ramStart uint64 = mem.FirmwareStart

//go:linkname ramSize runtime/goos.RamSize
var ramSize uint64 = mem.FirmwareSize

//go:linkname ramStackOffset runtime/goos.RamStackOffset
var ramStackOffset uint64 = 0x100
