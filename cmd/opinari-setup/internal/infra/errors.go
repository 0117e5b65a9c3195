// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package infra

import (
	"fmt"
	"strings"
)

// CheckErrorType classifies environment check failures.
type CheckErrorType int

const (
	CheckErrRuntimeMissing CheckErrorType = iota
	CheckErrRuntimeInstall
	CheckErrNetwork
	CheckErrDiskSpace
	CheckErrEnvironment
)

// String returns the short name of the check error type.
func (t CheckErrorType) String() string {
	switch t {
	case CheckErrRuntimeMissing:
		return "runtime_missing"
	case CheckErrRuntimeInstall:
		return "runtime_install"
	case CheckErrNetwork:
		return "network"
	case CheckErrDiskSpace:
		return "disk_space"
	case CheckErrEnvironment:
		return "environment"
	default:
		return "unknown"
	}
}

// CheckError is the typed failure returned by environment checks. Detail
// carries diagnostic specifics; Remediation tells the user what to do.
type CheckError struct {
	Type        CheckErrorType
	Message     string
	Detail      string
	Remediation string
	Err         error
}

// Error implements the error interface with the short message.
func (e *CheckError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *CheckError) Unwrap() error { return e.Err }

// FullError renders message, detail and remediation for terminal display.
func (e *CheckError) FullError() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Detail != "" {
		b.WriteString("\n  Detail: ")
		b.WriteString(e.Detail)
	}
	if e.Remediation != "" {
		b.WriteString("\n  Remediation: ")
		b.WriteString(e.Remediation)
	}
	return b.String()
}
