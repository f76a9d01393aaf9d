// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && riscv64
// +build tamago,riscv64

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"runtime/debug"
	"runtime/pprof"
	"strings"

	"golang.org/x/term"
)

func init() {
	Add(Cmd{
		Name: "help",
		Help: "this help",
		Fn:   helpCmd,
	})

	Add(Cmd{
		Name:    "exit, quit",
		Args:    1,
		Pattern: regexp.MustCompile(`^(exit|quit)$`),
		Help:    "close session",
		Fn:      exitCmd,
	})

	Add(Cmd{
		Name:    "stack",
		Args:    1,
		Pattern: regexp.MustCompile(`^stack( all)?$`),
		Syntax:  "(all)?",
		Help:    "monitor goroutine stack trace(s)",
		Fn:      stackCmd,
	})

	Add(Cmd{
		Name: "mtime",
		Help: "platform timebase",
		Fn:   mtimeCmd,
	})
}

func helpCmd(term *term.Terminal, _ []string) (string, error) {
	return Help(term), nil
}

func exitCmd(_ *term.Terminal, _ []string) (string, error) {
	return "logout", io.EOF
}

func stackCmd(_ *term.Terminal, arg []string) (string, error) {
	if strings.TrimSpace(arg[0]) == "all" {
		buf := new(bytes.Buffer)

		if err := pprof.Lookup("goroutine").WriteTo(buf, 1); err != nil {
			return "", err
		}

		return buf.String(), nil
	}

	return string(debug.Stack()), nil
}

func mtimeCmd(_ *term.Terminal, _ []string) (string, error) {
	if Monitor == nil {
		return "", errors.New("not booted")
	}

	return fmt.Sprintf("mtime:%d", Monitor.Platform.Now()), nil
}
