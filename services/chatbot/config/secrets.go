// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

// memguardInitOnce ensures memguard interrupt handling is installed once.
var memguardInitOnce sync.Once

// Secret holds one API key in a memguard enclave. The plaintext only
// exists outside locked memory for the moment a client is constructed.
type Secret struct {
	name    string
	enclave *memguard.Enclave
}

// LoadSecret reads a secret from the named environment variable, falling
// back to a container secret file (the /run/secrets convention). The
// environment copy is cleared after sealing.
//
// Returns an error if neither source yields a value.
func LoadSecret(envVar, secretFile string) (*Secret, error) {
	memguardInitOnce.Do(memguard.CatchInterrupt)

	value := os.Getenv(envVar)
	if value != "" {
		_ = os.Unsetenv(envVar)
	} else if secretFile != "" {
		data, err := os.ReadFile(secretFile)
		if err != nil {
			slog.Error("Secret not found in environment or secret file",
				"env", envVar, "path", secretFile)
			return nil, fmt.Errorf("%s not set and secret file %s unreadable", envVar, secretFile)
		}
		value = strings.TrimSpace(string(data))
		slog.Info("Read secret from container secret file", "env", envVar)
	}
	if value == "" {
		return nil, fmt.Errorf("%s not set", envVar)
	}

	// NewEnclave wipes the source slice after sealing.
	return &Secret{
		name:    envVar,
		enclave: memguard.NewEnclave([]byte(value)),
	}, nil
}

// Open returns the secret's plaintext. Callers should use it immediately
// and not retain copies.
func (s *Secret) Open() (string, error) {
	buf, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open secret %s: %w", s.name, err)
	}
	defer buf.Destroy()
	return buf.String(), nil
}
