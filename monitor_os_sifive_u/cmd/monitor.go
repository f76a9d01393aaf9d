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
	"strings"

	"golang.org/x/term"

	"github.com/vfmon/vfmon/mem"
	"github.com/vfmon/vfmon/policy"
)

func init() {
	Add(Cmd{
		Name: "boot",
		Help: "boot the virtual firmware",
		Fn:   bootCmd,
	})

	Add(Cmd{
		Name: "status",
		Help: "virtual hart state",
		Fn:   statusCmd,
	})

	Add(Cmd{
		Name: "policy",
		Help: "active policy and protected regions",
		Fn:   policyCmd,
	})
}

func bootCmd(_ *term.Terminal, _ []string) (string, error) {
	if Boot == nil {
		return "", errors.New("no boot function")
	}

	return "", Boot()
}

func statusCmd(_ *term.Terminal, _ []string) (res string, err error) {
	if Monitor == nil {
		return "", errors.New("not booted")
	}

	var b strings.Builder

	for _, hart := range Monitor.Harts {
		fmt.Fprintf(&b, "hart %d mode:%s pc:%#.8x mstatus:%#.16x mepc:%#.8x mcause:%#x\n",
			hart.ID, hart.Mode, hart.PC, hart.CSR.Mstatus, hart.CSR.Mepc, hart.CSR.Mcause)
	}

	return b.String(), nil
}

func policyCmd(_ *term.Terminal, _ []string) (res string, err error) {
	if Monitor == nil {
		return "", errors.New("not booted")
	}

	pol := Monitor.Policy

	var b strings.Builder

	fmt.Fprintf(&b, "policy:%s version:%d\n", pol.Name(), pol.Version())

	for _, r := range pol.ProtectedFrom(mem.OwnerFirmware) {
		fmt.Fprintf(&b, "protected from firmware: %s\n", r)
	}

	for _, r := range pol.ProtectedFrom(mem.OwnerPayload) {
		fmt.Fprintf(&b, "protected from payload: %s\n", r)
	}

	if attester, ok := pol.(policy.Attester); ok {
		if m, sealed := attester.Measurement(); sealed {
			fmt.Fprintf(&b, "measurement: %x\n", m)
		}
	}

	return b.String(), nil
}
