//go:build !sqlcipher

package history

// Plain build: register the pure sqlite3 driver. Development and tests use
// this variant so no cipher key is required to open a store.
import (
	_ "github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver name registered for this build.
const DriverName = "sqlite3"
