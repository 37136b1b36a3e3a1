//go:build !cgo

package storage

import _ "modernc.org/sqlite"

// Pure-Go driver for builds without a C toolchain.
const sqliteDriver = "sqlite"
