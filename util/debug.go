// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"bytes"
	"debug/elf"
	"debug/gosym"
	"errors"
	"fmt"
)

// debugTarget is the guest ELF used to symbolize fault addresses.
var debugTarget []byte

// SetDebugTarget selects the guest ELF binary for PCToLine lookups.
func SetDebugTarget(buf []byte) {
	debugTarget = buf
}

// LookupSym returns the named symbol of a guest ELF image.
func LookupSym(buf []byte, name string) (*elf.Symbol, error) {
	exe, err := elf.NewFile(bytes.NewReader(buf))

	if err != nil {
		return nil, err
	}

	syms, err := exe.Symbols()

	if err != nil {
		return nil, err
	}

	for _, sym := range syms {
		if sym.Name == name {
			return &sym, nil
		}
	}

	return nil, errors.New("symbol not found")
}

func goSymTable(buf []byte) (symTable *gosym.Table, err error) {
	exe, err := elf.NewFile(bytes.NewReader(buf))

	if err != nil {
		return
	}

	addr := exe.Section(".text").Addr

	lineTableData, err := exe.Section(".gopclntab").Data()

	if err != nil {
		return
	}

	lineTable := gosym.NewLineTable(lineTableData, addr)

	symTableData, err := exe.Section(".gosymtab").Data()

	if err != nil {
		return
	}

	return gosym.NewTable(symTableData, lineTable)
}

// PCToLine resolves a guest program counter to a source location of the
// debug target, when the target carries Go symbol tables.
func PCToLine(pc uint64) (s string, err error) {
	if len(debugTarget) == 0 {
		return "", errors.New("no debug target")
	}

	symTable, err := goSymTable(debugTarget)

	if err != nil {
		return
	}

	file, line, _ := symTable.PCToLine(pc)

	return fmt.Sprintf("%s:%d", file, line), nil
}
