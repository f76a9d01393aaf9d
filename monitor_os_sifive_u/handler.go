// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && riscv64
// +build tamago,riscv64

package main

import (
	gotee "github.com/usbarmory/GoTEE/monitor"

	"github.com/vfmon/vfmon/monitor"
)

// Bridge connects the low-level execution context to the trap dispatcher:
// the guest's saved state is mirrored into the hart context, the dispatcher
// runs, and the outcome is committed back before the context resumes.
type Bridge struct {
	mon *monitor.Monitor
}

// handle is invoked whenever the guest traps out of its execution context.
func (b *Bridge) handle(ctx *gotee.ExecCtx) (err error) {
	hart := b.mon.Hart(0)

	stateToHart(ctx, hart)

	// the low-level context reports environment calls, anything else
	// stops the context before the handler is reached
	err = b.mon.Handle(hart, monitor.Trap{MCause: monitor.CauseEcallFromU})

	hartToState(hart, ctx)

	return
}

func stateToHart(ctx *gotee.ExecCtx, hart *monitor.HartContext) {
	hart.PC = ctx.PC

	hart.Regs[1] = ctx.X1
	hart.Regs[2] = ctx.X2
	hart.Regs[3] = ctx.X3
	hart.Regs[4] = ctx.X4
	hart.Regs[5] = ctx.X5
	hart.Regs[6] = ctx.X6
	hart.Regs[7] = ctx.X7
	hart.Regs[8] = ctx.X8
	hart.Regs[9] = ctx.X9
	hart.Regs[10] = ctx.X10
	hart.Regs[11] = ctx.X11
	hart.Regs[12] = ctx.X12
	hart.Regs[13] = ctx.X13
	hart.Regs[14] = ctx.X14
	hart.Regs[15] = ctx.X15
	hart.Regs[16] = ctx.X16
	hart.Regs[17] = ctx.X17
	hart.Regs[18] = ctx.X18
	hart.Regs[19] = ctx.X19
	hart.Regs[20] = ctx.X20
	hart.Regs[21] = ctx.X21
	hart.Regs[22] = ctx.X22
	hart.Regs[23] = ctx.X23
	hart.Regs[24] = ctx.X24
	hart.Regs[25] = ctx.X25
	hart.Regs[26] = ctx.X26
	hart.Regs[27] = ctx.X27
	hart.Regs[28] = ctx.X28
	hart.Regs[29] = ctx.X29
	hart.Regs[30] = ctx.X30
	hart.Regs[31] = ctx.X31
}

func hartToState(hart *monitor.HartContext, ctx *gotee.ExecCtx) {
	ctx.PC = hart.PC

	ctx.X1 = hart.Regs[1]
	ctx.X2 = hart.Regs[2]
	ctx.X3 = hart.Regs[3]
	ctx.X4 = hart.Regs[4]
	ctx.X5 = hart.Regs[5]
	ctx.X6 = hart.Regs[6]
	ctx.X7 = hart.Regs[7]
	ctx.X8 = hart.Regs[8]
	ctx.X9 = hart.Regs[9]
	ctx.X10 = hart.Regs[10]
	ctx.X11 = hart.Regs[11]
	ctx.X12 = hart.Regs[12]
	ctx.X13 = hart.Regs[13]
	ctx.X14 = hart.Regs[14]
	ctx.X15 = hart.Regs[15]
	ctx.X16 = hart.Regs[16]
	ctx.X17 = hart.Regs[17]
	ctx.X18 = hart.Regs[18]
	ctx.X19 = hart.Regs[19]
	ctx.X20 = hart.Regs[20]
	ctx.X21 = hart.Regs[21]
	ctx.X22 = hart.Regs[22]
	ctx.X23 = hart.Regs[23]
	ctx.X24 = hart.Regs[24]
	ctx.X25 = hart.Regs[25]
	ctx.X26 = hart.Regs[26]
	ctx.X27 = hart.Regs[27]
	ctx.X28 = hart.Regs[28]
	ctx.X29 = hart.Regs[29]
	ctx.X30 = hart.Regs[30]
	ctx.X31 = hart.Regs[31]
}
