// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && riscv64
// +build tamago,riscv64

package main

import (
	"log"
	"os"
	"runtime"
	"runtime/goos"
	"time"

	"github.com/usbarmory/GoTEE/applet"

	"github.com/vfmon/vfmon/mem"
	"github.com/vfmon/vfmon/sbi"
)

func init() {
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)

	// yield to monitor (w/ err != nil) on runtime panic
	goos.Exit = applet.Crash
}

func main() {
	log.Printf("%s/%s (%s) • virtual firmware", runtime.GOOS, runtime.GOARCH, runtime.Version())

	ret, version := sbiCall(sbi.EXT_BASE, sbi.BASE_GET_SPEC_VERSION, 0, 0)

	if ret == sbi.SBI_SUCCESS {
		log.Printf("firmware probed SBI v%d.%d", version>>24, version&0xffffff)
	}

	_, impl := sbiCall(sbi.EXT_BASE, sbi.BASE_GET_IMP_ID, 0, 0)
	log.Printf("firmware runs on SBI implementation %#x", impl)

	// test concurrent execution of firmware and monitor
	for i := 0; i < 3; i++ {
		time.Sleep(1 * time.Second)
		log.Printf("firmware says %d mississippi", i+1)
	}

	testSeal()

	log.Printf("firmware requests shutdown")
	shutdown(0)
}

// testSeal freezes the first payload page and reads back its measurement,
// effective when the monitor was booted with a sealing policy.
func testSeal() {
	if ret, _ := seal(mem.PayloadStart, 0x1000); int64(ret) != sbi.SBI_SUCCESS {
		log.Printf("firmware seal request refused (%d)", int64(ret))
		return
	}

	log.Printf("firmware sealed payload page %#x", uint64(mem.PayloadStart))

	for word := uint64(0); word < 4; word++ {
		ret, val := attest(word)

		if int64(ret) != sbi.SBI_SUCCESS {
			return
		}

		log.Printf("firmware measurement[%d]: %#.16x", word, val)
	}
}
