// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && riscv64
// +build tamago,riscv64

package main

import (
	"errors"
	"fmt"
	"log"
	"sync"

	gotee "github.com/usbarmory/GoTEE/monitor"

	"github.com/usbarmory/armory-boot/exec"

	"github.com/vfmon/vfmon/mem"
	"github.com/vfmon/vfmon/monitor"
	"github.com/vfmon/vfmon/monitor_os_sifive_u/cmd"
	"github.com/vfmon/vfmon/policy"
	"github.com/vfmon/vfmon/util"
)

// boot loads the embedded virtual firmware, instantiates the monitor with
// the selected policy and runs the guest to completion. Invoked by the
// console `boot` command.
func boot() (err error) {
	pol, err := policy.New(Variant)

	if err != nil {
		return
	}

	fw, err := loadFirmware()

	if err != nil {
		return
	}

	hw := &Hardware{}
	mon := monitor.New(1, fw.PC, 0, pol, hw)
	hw.mon = mon

	if err = mon.Init(); err != nil {
		return
	}

	bridge := &Bridge{mon: mon}
	fw.Handler = bridge.handle

	cmd.Monitor = mon

	var wg sync.WaitGroup
	wg.Add(1)
	go run(fw, &wg)

	log.Printf("SM waiting for virtual firmware")
	wg.Wait()

	return
}

// loadFirmware loads the embedded firmware ELF into its memory region and
// prepares its execution context at effective user privilege.
func loadFirmware() (fw *gotee.ExecCtx, err error) {
	image := &exec.ELFImage{
		Region: mem.FirmwareDMA,
		ELF:    fwELF,
	}

	if err = image.Load(); err != nil {
		return
	}

	if fw, err = gotee.Load(image.Entry(), image.Region, true); err != nil {
		return nil, fmt.Errorf("SM could not load firmware, %v", err)
	}

	log.Printf("SM loaded firmware addr:%#x size:%d entry:%#x", mem.FirmwareStart, len(fwELF), fw.PC)

	// set stack pointer to the end of firmware memory
	fw.X2 = mem.FirmwareStart + mem.FirmwareSize

	// set firmware as ELF debugging target
	util.SetDebugTarget(fwELF)

	return
}

func run(ctx *gotee.ExecCtx, wg *sync.WaitGroup) {
	log.Printf("SM starting sp:%#.8x pc:%#.8x", ctx.X2, ctx.PC)

	err := ctx.Run()

	if wg != nil {
		wg.Done()
	}

	var shutdown *monitor.ShutdownError

	if errors.As(err, &shutdown) {
		log.Printf("SM stopped, guest shutdown with exit code %d", shutdown.Code)
		return
	}

	log.Printf("SM stopped sp:%#.8x ra:%#.8x pc:%#.8x err:%v", ctx.X2, ctx.X1, ctx.PC, err)

	if err != nil {
		if line, _ := util.PCToLine(ctx.PC); line != "" {
			log.Printf("SM guest fault at %s", line)
		}
	}
}
