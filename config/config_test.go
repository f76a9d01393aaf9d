// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vfmon/vfmon/mem"
)

func TestParseDefaults(t *testing.T) {
	p, err := Parse([]byte("firmware:\n  path: fw.bin\n"))

	if err != nil {
		t.Fatal(err)
	}

	want := &Profile{
		Harts: 1,
		Firmware: Image{
			Path: "fw.bin",
			Load: mem.FirmwareStart,
		},
		Entry: mem.FirmwareStart,
	}

	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("unexpected profile (-want +got):\n%s", diff)
	}
}

func TestParseProfile(t *testing.T) {
	buf := []byte(`
harts: 2
policy: sandbox
firmware:
  path: fw.bin
  load: 0x80400000
payload:
  path: os.bin
`)

	p, err := Parse(buf)

	if err != nil {
		t.Fatal(err)
	}

	if p.Harts != 2 || p.Policy != "sandbox" {
		t.Errorf("unexpected profile %+v", p)
	}

	if p.Firmware.Load != 0x80400000 || p.Entry != 0x80400000 {
		t.Errorf("unexpected firmware load %#x entry %#x", p.Firmware.Load, p.Entry)
	}

	// payload load address defaults to the layout
	if p.Payload == nil || p.Payload.Load != mem.PayloadStart {
		t.Errorf("unexpected payload %+v", p.Payload)
	}

	pol, err := p.NewPolicy()

	if err != nil {
		t.Fatal(err)
	}

	if pol.Name() != "sandbox" {
		t.Errorf("unexpected policy %q", pol.Name())
	}
}

func TestParseInvalid(t *testing.T) {
	for name, buf := range map[string]string{
		"harts":    "harts: 9\n",
		"policy":   "policy: bogus\n",
		"firmware": "firmware:\n  load: 0x10000000\n",
		"payload":  "payload:\n  path: os.bin\n  load: 0x80000000\n",
		"syntax":   "harts: [\n",
	} {
		if _, err := Parse([]byte(buf)); err == nil {
			t.Errorf("%s profile accepted", name)
		}
	}
}
