// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package secrets keeps the user's API key out of swap, core dumps and logs
while the wizard holds it.

The key lives in a memguard enclave from the moment the form returns it
until it is written to the configuration store. Accessors hand out a locked
buffer that the caller must destroy; the fmt representations are redacted
so a stray %v cannot leak the value.

Zero Value Logging: secret values are NEVER logged, at any level.
*/
package secrets

import (
	"errors"

	"github.com/awnumar/memguard"
)

// ErrEmpty is returned when a credential was constructed from no material.
var ErrEmpty = errors.New("empty credential")

// Credential is an API key held in guarded memory.
type Credential struct {
	enclave *memguard.Enclave
}

// NewCredential seals raw into guarded memory. The raw slice is wiped as a
// side effect; callers must not reuse it.
func NewCredential(raw []byte) *Credential {
	if len(raw) == 0 {
		return &Credential{}
	}
	return &Credential{enclave: memguard.NewEnclave(raw)}
}

// NewCredentialFromString seals a string credential. Strings are immutable
// so the original cannot be wiped; prefer NewCredential where the input is
// already a byte slice.
func NewCredentialFromString(raw string) *Credential {
	if raw == "" {
		return &Credential{}
	}
	return NewCredential([]byte(raw))
}

// Empty reports whether there is no sealed material.
func (c *Credential) Empty() bool {
	return c == nil || c.enclave == nil
}

// Open decrypts the credential into a locked buffer. The caller must call
// Destroy on the buffer as soon as the value has been used.
func (c *Credential) Open() (*memguard.LockedBuffer, error) {
	if c.Empty() {
		return nil, ErrEmpty
	}
	return c.enclave.Open()
}

// Use runs fn with the plaintext and destroys the buffer afterwards. The
// plaintext must not escape fn.
func (c *Credential) Use(fn func(plaintext []byte) error) error {
	buf, err := c.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// String implements fmt.Stringer with a redacted form.
func (c *Credential) String() string { return "[redacted]" }

// GoString keeps %#v redacted too.
func (c *Credential) GoString() string { return "secrets.Credential{[redacted]}" }
