// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"fmt"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// SealSecret moves a secret into an encrypted enclave. Empty input returns
// nil.
func SealSecret(secret string) *memguard.Enclave {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return memguard.NewEnclave([]byte(secret))
}

// sealEnv seals the first non-empty variable among names.
func sealEnv(names ...string) *memguard.Enclave {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return SealSecret(v)
		}
	}
	return nil
}

// withSecret opens the enclave, passes the plaintext to fn, and destroys
// the buffer when fn returns.
func withSecret(enclave *memguard.Enclave, fn func(secret string) error) error {
	if enclave == nil {
		return fn("")
	}
	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("opening sealed API key: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.String())
}
