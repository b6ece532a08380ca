//go:build !cgo

package sqlitedriver

import (
	"database/sql"

	"modernc.org/sqlite"
)

func init() {
	sql.Register("sqlite3", &sqlite.Driver{})
}

// EncryptionSupported reports whether the registered SQLite driver honours
// PRAGMA key. The pure-Go driver does not implement SQLCipher, so database
// encryption settings are rejected at open time in this build.
const EncryptionSupported = false
