// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package policy

import (
	"bytes"
	"errors"
	"testing"

	"golang.org/x/crypto/sha3"

	"github.com/vfmon/vfmon/mem"
)

func TestNew(t *testing.T) {
	for variant, name := range map[string]string{
		"":        "noop",
		"noop":    "noop",
		"sandbox": "sandbox",
		"protect": "protect",
		"enclave": "enclave",
	} {
		p, err := New(variant)

		if err != nil {
			t.Fatalf("variant %q, %v", variant, err)
		}

		if p.Name() != name {
			t.Errorf("variant %q named %q", variant, p.Name())
		}
	}

	if _, err := New("bogus"); !errors.Is(err, ErrUnknownVariant) {
		t.Errorf("expected ErrUnknownVariant, got %v", err)
	}
}

func TestNoOp(t *testing.T) {
	p := &NoOp{}

	if d := p.AuthorizeMemoryAccess(0, mem.OwnerFirmware, mem.MonitorStart, 8, mem.PermW); d.Action != Allow {
		t.Error("NoOp denied a memory access")
	}

	if regions := p.ProtectedFrom(mem.OwnerFirmware); len(regions) != 0 {
		t.Errorf("NoOp protects %v", regions)
	}

	if p.Version() != 0 {
		t.Error("NoOp version changed")
	}
}

func TestSandbox(t *testing.T) {
	p := NewSandbox()

	// firmware cannot reach monitor memory, not even partially
	if d := p.AuthorizeMemoryAccess(0, mem.OwnerFirmware, mem.MonitorStart+0x100, 8, mem.PermR); d.Action != Deny {
		t.Error("sandbox allowed firmware access to monitor memory")
	}

	edge := mem.MonitorRegion().End() - 4

	if d := p.AuthorizeMemoryAccess(0, mem.OwnerFirmware, edge, 8, mem.PermR); d.Action != Deny {
		t.Error("sandbox allowed access straddling the monitor boundary")
	}

	if d := p.AuthorizeMemoryAccess(0, mem.OwnerFirmware, mem.FirmwareStart, 8, mem.PermW); d.Action != Allow {
		t.Error("sandbox denied firmware its own memory")
	}

	if d := p.AuthorizeMemoryAccess(0, mem.OwnerMonitor, mem.MonitorStart, 8, mem.PermW); d.Action != Allow {
		t.Error("sandbox denied the monitor its own memory")
	}

	if regions := p.ProtectedFrom(mem.OwnerFirmware); len(regions) == 0 {
		t.Error("sandbox protects nothing from firmware")
	}
}

func TestProtectPayloadSeal(t *testing.T) {
	p := NewProtectPayload()

	region := mem.Region{Start: mem.PayloadStart, Size: 0x1000}

	if p.Version() != 0 {
		t.Error("version nonzero before seal")
	}

	if err := p.Seal(region, make([]byte, region.Size)); err != nil {
		t.Fatal(err)
	}

	if p.Version() != 1 {
		t.Error("seal did not bump the version")
	}

	// sealing is once per boot
	if err := p.Seal(region, nil); !errors.Is(err, ErrSealed) {
		t.Errorf("expected ErrSealed, got %v", err)
	}

	// regions outside payload memory are rejected
	q := NewProtectPayload()

	bad := mem.Region{Start: mem.FirmwareStart, Size: 0x1000}

	if err := q.Seal(bad, nil); !errors.Is(err, ErrInvalidRegion) {
		t.Errorf("expected ErrInvalidRegion, got %v", err)
	}
}

func TestProtectPayloadAccess(t *testing.T) {
	p := NewProtectPayload()

	region := mem.Region{Start: mem.PayloadStart + 0x1000, Size: 0x1000}

	if err := p.Seal(region, make([]byte, region.Size)); err != nil {
		t.Fatal(err)
	}

	// firmware is locked out of the sealed range
	if d := p.AuthorizeMemoryAccess(0, mem.OwnerFirmware, region.Start, 8, mem.PermR); d.Action != Deny {
		t.Error("firmware read of sealed region allowed")
	}

	// a straddling access is denied as a whole
	if d := p.AuthorizeMemoryAccess(0, mem.OwnerFirmware, region.Start-4, 8, mem.PermR); d.Action != Deny {
		t.Error("straddling access allowed")
	}

	// the payload keeps access to its own sealed memory
	if d := p.AuthorizeMemoryAccess(0, mem.OwnerPayload, region.Start, 8, mem.PermW); d.Action != Allow {
		t.Error("payload denied its own sealed region")
	}

	if regions := p.ProtectedFrom(mem.OwnerFirmware); len(regions) != 1 || regions[0].Start != region.Start {
		t.Errorf("unexpected protected set %v", regions)
	}

	if regions := p.ProtectedFrom(mem.OwnerPayload); len(regions) != 0 {
		t.Errorf("sealed region protected from its owner, %v", regions)
	}
}

func TestEnclaveMeasurement(t *testing.T) {
	p := NewEnclave()

	if _, sealed := p.Measurement(); sealed {
		t.Error("measurement available before seal")
	}

	contents := bytes.Repeat([]byte{0xaa}, 0x1000)
	region := mem.Region{Start: mem.PayloadStart, Size: uint64(len(contents))}

	if err := p.Seal(region, contents); err != nil {
		t.Fatal(err)
	}

	m, sealed := p.Measurement()

	if !sealed {
		t.Fatal("no measurement after seal")
	}

	expected := sha3.Sum512(contents)

	if !bytes.Equal(m, expected[:]) {
		t.Errorf("unexpected measurement %x", m)
	}
}

func TestEnclaveSealOnce(t *testing.T) {
	p := NewEnclave()

	first := bytes.Repeat([]byte{0xaa}, 0x1000)
	region := mem.Region{Start: mem.PayloadStart, Size: uint64(len(first))}

	if err := p.Seal(region, first); err != nil {
		t.Fatal(err)
	}

	// a rejected second seal leaves the published measurement intact
	if err := p.Seal(region, bytes.Repeat([]byte{0xbb}, 0x1000)); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed, got %v", err)
	}

	m, sealed := p.Measurement()
	expected := sha3.Sum512(first)

	if !sealed || !bytes.Equal(m, expected[:]) {
		t.Errorf("unexpected measurement %x", m)
	}
}
