//go:build sqlcipher

package history

// Production build, selected with -tags sqlcipher: register the encrypted
// sqlcipher driver under the same "sqlite3" name so Store.Open needs no
// build-specific branching.
import (
	_ "github.com/mutecomm/go-sqlcipher"
)

// DriverName is the database/sql driver name registered for this build.
const DriverName = "sqlite3"
