// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package functions

import (
	"errors"
	"fmt"
)

// ErrUnknownFunction is returned by Dispatch when the requested name is not
// in the registry. This is deterministic: the caller must never retry it.
var ErrUnknownFunction = errors.New("unknown function")

// HandlerError wraps a failure inside a registered handler, keeping it
// distinguishable from a lookup failure.
//
// NotFound marks the "asked for something that doesn't exist" class of
// handler failures (unknown city, missing resource). The session layer uses
// it to choose between an apology and a generic failure message.
type HandlerError struct {
	// Function is the registered name of the failing handler.
	Function string

	// NotFound is true when the handler's backing service reported that
	// the requested entity does not exist.
	NotFound bool

	// Err is the underlying failure.
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("function %q failed: %v", e.Function, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
