// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"bytes"
	"os"

	"golang.org/x/term"
)

var firmwareOutput bytes.Buffer
var payloadOutput bytes.Buffer

const outputLimit = 1024
const flushChr = 0x0a // \n

// BufferedStdoutLog collects guest console bytes per originator and flushes
// whole lines, so firmware and payload output does not interleave with the
// monitor's own logging.
func BufferedStdoutLog(c byte, firmware bool) {
	var buf *bytes.Buffer

	if firmware {
		buf = &firmwareOutput
	} else {
		buf = &payloadOutput
	}

	buf.WriteByte(c)

	if c == flushChr || buf.Len() > outputLimit {
		os.Stdout.Write(buf.Bytes())
		buf.Reset()
	}
}

// BufferedTermLog mirrors BufferedStdoutLog on an interactive terminal,
// coloring firmware output green and payload output red.
func BufferedTermLog(c byte, firmware bool, t *term.Terminal) {
	var buf *bytes.Buffer
	var color []byte

	if firmware {
		buf = &firmwareOutput
		color = t.Escape.Green
	} else {
		buf = &payloadOutput
		color = t.Escape.Red
	}

	buf.WriteByte(c)

	if c == flushChr || buf.Len() > outputLimit {
		t.Write(color)
		t.Write(buf.Bytes())
		t.Write(t.Escape.Reset)

		buf.Reset()
	}
}
