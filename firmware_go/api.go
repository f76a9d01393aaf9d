// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && riscv64
// +build tamago,riscv64

package main

import (
	"github.com/vfmon/vfmon/sbi"
)

// defined in api.s
func sbiCall(ext, fn, arg0, arg1 uint64) (ret uint64, val uint64)

func seal(start, size uint64) (uint64, uint64) {
	return sbiCall(sbi.EXT_VFMON, sbi.VFMON_SEAL, start, size)
}

func attest(word uint64) (uint64, uint64) {
	return sbiCall(sbi.EXT_VFMON, sbi.VFMON_ATTEST, word, 0)
}

func shutdown(code uint64) {
	sbiCall(sbi.EXT_SRST, sbi.SRST_SYSTEM_RESET, sbi.SRST_TYPE_SHUTDOWN, code)
}
