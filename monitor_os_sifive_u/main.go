// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && riscv64
// +build tamago,riscv64

package main

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"runtime"
	_ "unsafe"

	"github.com/usbarmory/tamago/board/qemu/sifive_u"
	"github.com/usbarmory/tamago/dma"

	"github.com/vfmon/vfmon/mem"
	"github.com/vfmon/vfmon/monitor_os_sifive_u/cmd"
)

// The virtual firmware ELF binary is embedded within the monitor
// executable, using Go embed package.

//go:embed assets/firmware.elf
var fwELF []byte

//go:linkname ramStart runtime/goos.RamStart
var ramStart uint64 = mem.MonitorStart

//go:linkname ramSize runtime/goos.RamSize
var ramSize uint64 = mem.MonitorSize

// Variant selects the boot policy, overridable at build time
// (`-ldflags "-X main.Variant=enclave"`).
var Variant = "sandbox"

func init() {
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)

	mem.Init()
	dma.Init(mem.MonitorDMAStart, mem.MonitorDMASize)

	cmd.Banner = fmt.Sprintf("%s/%s (%s) • virtual firmware monitor (M-mode)", runtime.GOOS, runtime.GOARCH, runtime.Version())
	cmd.Boot = boot
}

func main() {
	cmd.SerialConsole(&uartIO{uart: sifive_u.UART0})

	log.Printf("SM says goodbye")
}

// uartIO adapts the board UART to the console terminal.
type uartIO struct {
	uart interface {
		Tx(c byte)
		Rx() (c byte, valid bool)
	}
}

func (u *uartIO) Write(buf []byte) (n int, err error) {
	for _, c := range buf {
		u.uart.Tx(c)
	}

	return len(buf), nil
}

func (u *uartIO) Read(buf []byte) (n int, err error) {
	for n < len(buf) {
		c, valid := u.uart.Rx()

		if !valid {
			if n > 0 {
				return
			}

			runtime.Gosched()
			continue
		}

		buf[n] = c
		n++
	}

	return
}
