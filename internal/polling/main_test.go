package polling

import (
	"testing"

	"go.uber.org/goleak"
)

// The engine runs synchronously on the caller's goroutine; cancellation must
// never strand a sleeper.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
