// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && riscv64
// +build tamago,riscv64

package cmd

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"golang.org/x/term"
)

// maxDumpSize bounds a single peek so a mistyped size does not stall the
// console on a multi-megabyte hex dump.
const maxDumpSize = 0x1000

func init() {
	Add(Cmd{
		Name:    "peek",
		Args:    2,
		Pattern: regexp.MustCompile(`^peek ([[:xdigit:]]+) (\d+)$`),
		Syntax:  "<hex addr> <size>",
		Help:    "guest memory display",
		Fn:      peekCmd,
	})

	Add(Cmd{
		Name:    "poke",
		Args:    2,
		Pattern: regexp.MustCompile(`^poke ([[:xdigit:]]+) ([[:xdigit:]]+)$`),
		Syntax:  "<hex addr> <hex value>",
		Help:    "guest memory write, 64-bit",
		Fn:      pokeCmd,
	})
}

func peekCmd(_ *term.Terminal, arg []string) (res string, err error) {
	if Monitor == nil {
		return "", errors.New("not booted")
	}

	addr, err := strconv.ParseUint(arg[0], 16, 64)

	if err != nil {
		return "", fmt.Errorf("invalid address, %v", err)
	}

	size, err := strconv.ParseUint(arg[1], 10, 32)

	if err != nil {
		return "", fmt.Errorf("invalid size, %v", err)
	}

	if size > maxDumpSize {
		return "", fmt.Errorf("size argument must be <= %d", maxDumpSize)
	}

	buf := make([]byte, size)

	if err = Monitor.Platform.ReadMemory(addr, buf); err != nil {
		return
	}

	return hex.Dump(buf), nil
}

func pokeCmd(_ *term.Terminal, arg []string) (res string, err error) {
	if Monitor == nil {
		return "", errors.New("not booted")
	}

	addr, err := strconv.ParseUint(arg[0], 16, 64)

	if err != nil {
		return "", fmt.Errorf("invalid address, %v", err)
	}

	val, err := strconv.ParseUint(arg[1], 16, 64)

	if err != nil {
		return "", fmt.Errorf("invalid data, %v", err)
	}

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, val)

	return "", Monitor.Platform.WriteMemory(addr, buf)
}
