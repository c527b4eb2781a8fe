/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries build information.
package version

import (
	"fmt"
	"runtime"
)

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/relaydesk/internal/version.Version=X.Y.Z
var Version = "0.1.0"

// Commit is the source revision, set at build time.
var Commit = "unknown"

// String renders version, commit and Go runtime for the CLI.
func String() string {
	return fmt.Sprintf("relaydesk %s (%s, %s)", Version, Commit, runtime.Version())
}
