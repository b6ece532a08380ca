//go:build cgo

package sqlitedriver

import (
	_ "github.com/mutecomm/go-sqlcipher/v4" // registers the "sqlite3" driver with SQLCipher support
)

// EncryptionSupported reports whether the registered SQLite driver honours
// PRAGMA key. True for the CGO build, which links SQLCipher.
const EncryptionSupported = true
