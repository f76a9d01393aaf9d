// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && riscv64
// +build tamago,riscv64

package cmd

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/usbarmory/tamago/soc/sifive/fu540"

	"github.com/vfmon/vfmon/pmp"
)

func init() {
	Add(Cmd{
		Name:    "pmp",
		Args:    1,
		Pattern: regexp.MustCompile(`^pmp (\d+)$`),
		Syntax:  "<index>",
		Help:    "read real PMP CSR",
		Fn:      pmpRead,
	})

	Add(Cmd{
		Name: "vpmp",
		Help: "virtual PMP view of hart 0",
		Fn:   pmpVirtual,
	})
}

func pmpRead(_ *term.Terminal, arg []string) (res string, err error) {
	i, err := strconv.ParseUint(arg[0], 10, 8)

	if err != nil {
		return "", fmt.Errorf("invalid index, %v", err)
	}

	addr, r, w, x, a, l, err := fu540.RV64.ReadPMP(int(i))

	if err != nil {
		return
	}

	return fmt.Sprintf("PMP:%.2d addr:%.16x A:%d R:%v W:%v X:%v l:%v", i, addr, a, r, w, x, l), nil
}

func pmpVirtual(_ *term.Terminal, _ []string) (res string, err error) {
	if Monitor == nil {
		return "", errors.New("not booted")
	}

	entries := Monitor.Hart(0).PMP.Entries()

	var b strings.Builder
	var prev uint64

	for i, e := range entries {
		start, end := e.Range(prev)
		prev = e.Addr

		if e.Mode() == pmp.ModeOff {
			continue
		}

		fmt.Fprintf(&b, "vPMP:%.2d addr:%.16x cfg:%.2x range:%#x-%#x\n", i, e.Addr, e.Cfg, start, end)
	}

	if b.Len() == 0 {
		return "no active virtual entries", nil
	}

	return b.String(), nil
}
