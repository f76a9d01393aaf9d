// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && riscv64
// +build tamago,riscv64

// Package cmd implements the serial console of the monitor: a command
// table matched by regular expressions over an interactive terminal.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/vfmon/vfmon/monitor"
)

// Banner is the login welcome banner.
var Banner string

// Boot starts guest execution, set by the main package.
var Boot func() error

// Monitor is the active monitor instance, set once the guest is booted.
var Monitor *monitor.Monitor

// CmdFn is the command handler prototype.
type CmdFn func(term *term.Terminal, arg []string) (res string, err error)

// Cmd is a console command.
type Cmd struct {
	Name    string
	Args    int
	Pattern *regexp.Regexp
	Syntax  string
	Help    string
	Fn      CmdFn
}

var (
	mu   sync.Mutex
	cmds = make(map[string]*Cmd)
)

// Add registers a command.
func Add(cmd Cmd) {
	mu.Lock()
	defer mu.Unlock()

	cmds[cmd.Name] = &cmd
}

// Help returns the formatted command list.
func Help(term *term.Terminal) string {
	mu.Lock()
	defer mu.Unlock()

	var names []string

	for name := range cmds {
		names = append(names, name)
	}

	sort.Strings(names)

	var help strings.Builder
	t := tabwriter.NewWriter(&help, 16, 8, 0, '\t', tabwriter.TabIndent)

	fmt.Fprintf(t, "help, commands (%s)\n", "vfmon console")

	for _, name := range names {
		cmd := cmds[name]
		fmt.Fprintf(t, "%s %s\t # %s\n", cmd.Name, cmd.Syntax, cmd.Help)
	}

	t.Flush()

	return help.String()
}

// SerialConsole runs the interactive console over the given serial port
// until the session is closed.
func SerialConsole(console io.ReadWriter) {
	t := term.NewTerminal(console, "")
	t.SetPrompt(string(t.Escape.Red) + "> " + string(t.Escape.Reset))

	log.SetOutput(io.MultiWriter(log.Writer(), t))
	defer log.SetOutput(log.Writer())

	fmt.Fprintf(t, "%s\n\n", Banner)
	fmt.Fprintf(t, "%s\n", string(t.Escape.Cyan)+Help(t)+string(t.Escape.Reset))

	for {
		line, err := t.ReadLine()

		if err == io.EOF {
			break
		}

		if err != nil {
			log.Printf("readline error, %v", err)
			continue
		}

		if err = handle(t, strings.TrimSpace(line)); err != nil {
			if err == io.EOF {
				break
			}

			fmt.Fprintf(t, "command error, %v\n", err)
		}
	}
}

func handle(t *term.Terminal, line string) error {
	if len(line) == 0 {
		return nil
	}

	cmd, arg := match(line)

	if cmd == nil {
		return errors.New("unknown command, type `help`")
	}

	return dispatch(t, cmd, arg)
}

func match(line string) (*Cmd, []string) {
	mu.Lock()
	defer mu.Unlock()

	for _, cmd := range cmds {
		if cmd.Pattern == nil {
			if line == cmd.Name {
				return cmd, nil
			}

			continue
		}

		if m := cmd.Pattern.FindStringSubmatch(line); len(m) == cmd.Args+1 {
			return cmd, m[1:]
		}
	}

	return nil, nil
}

func dispatch(t *term.Terminal, cmd *Cmd, arg []string) error {
	res, err := cmd.Fn(t, arg)

	if err != nil {
		return err
	}

	if len(res) > 0 {
		fmt.Fprintln(t, res)
	}

	return nil
}
