// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package policy

import (
	"golang.org/x/crypto/sha3"

	"github.com/vfmon/vfmon/mem"
)

// Enclave generalizes ProtectPayload with a cryptographic measurement of the
// sealed region taken at seal time, exposed through the attestation ecall.
type Enclave struct {
	ProtectPayload

	measurement [64]byte
}

// NewEnclave returns an Enclave variant with no sealed region.
func NewEnclave() *Enclave {
	return &Enclave{}
}

func (p *Enclave) Name() string {
	return "enclave"
}

// Seal measures the region contents with SHA3-512, committing the
// measurement under the same lock that publishes the seal: a concurrent
// Measurement never observes one without the other.
func (p *Enclave) Seal(r mem.Region, contents []byte) (err error) {
	if err = sealable(r); err != nil {
		return
	}

	p.Lock()
	defer p.Unlock()

	if err = p.seal(r); err != nil {
		return
	}

	p.measurement = sha3.Sum512(contents)

	return
}

// Measurement implements the Attester interface.
func (p *Enclave) Measurement() (m []byte, ok bool) {
	p.Lock()
	defer p.Unlock()

	if !p.hasSeal {
		return nil, false
	}

	return p.measurement[:], true
}
