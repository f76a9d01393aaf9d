// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package config loads machine profiles for the host-side runner: hart
// count, guest images and the active policy variant, described in YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vfmon/vfmon/mem"
	"github.com/vfmon/vfmon/policy"
)

// MaxHarts bounds a profile, matching the SiFive FU540 hart count.
const MaxHarts = 4

// Image describes one guest image: the file it is read from and the
// physical load address.
type Image struct {
	Path string `yaml:"path"`
	Load uint64 `yaml:"load"`
}

// Profile is a resolved machine description. Zero fields take layout
// defaults at load time, a parsed profile is complete and immutable.
type Profile struct {
	Harts    int    `yaml:"harts"`
	Policy   string `yaml:"policy"`
	Entry    uint64 `yaml:"entry"`
	Firmware Image  `yaml:"firmware"`
	Payload  *Image `yaml:"payload,omitempty"`
}

// Load reads and parses a profile file.
func Load(path string) (*Profile, error) {
	buf, err := os.ReadFile(path)

	if err != nil {
		return nil, err
	}

	p, err := Parse(buf)

	if err != nil {
		return nil, fmt.Errorf("invalid profile %s, %w", path, err)
	}

	return p, nil
}

// Parse decodes a profile, fills layout defaults and validates it.
func Parse(buf []byte) (*Profile, error) {
	p := &Profile{
		Harts: 1,
		Firmware: Image{
			Load: mem.FirmwareStart,
		},
	}

	if err := yaml.Unmarshal(buf, p); err != nil {
		return nil, err
	}

	if p.Payload != nil && p.Payload.Load == 0 {
		p.Payload.Load = mem.PayloadStart
	}

	if p.Entry == 0 {
		p.Entry = p.Firmware.Load
	}

	return p, p.validate()
}

func (p *Profile) validate() error {
	if p.Harts < 1 || p.Harts > MaxHarts {
		return fmt.Errorf("hart count %d outside 1..%d", p.Harts, MaxHarts)
	}

	if _, err := policy.New(p.Policy); err != nil {
		return err
	}

	if !mem.FirmwareRegion().ContainsRange(p.Firmware.Load, 4) {
		return fmt.Errorf("firmware load address %#x outside firmware region", p.Firmware.Load)
	}

	if p.Payload != nil && !mem.PayloadRegion().ContainsRange(p.Payload.Load, 4) {
		return fmt.Errorf("payload load address %#x outside payload region", p.Payload.Load)
	}

	return nil
}

// NewPolicy instantiates the profile's policy variant.
func (p *Profile) NewPolicy() (policy.Policy, error) {
	return policy.New(p.Policy)
}
