package core

import (
	"os"
	"strconv"
	"strings"
)

// envInt reads an environment variable as an integer, clamped to [min, max],
// falling back to def when unset or unparsable.
func envInt(name string, def, min, max int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// LogLevel reports ENABLE_LOGS, one of {off, info, debug, warn, error},
// defaulting to "off".
func LogLevel() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ENABLE_LOGS")))
	switch v {
	case "off", "info", "debug", "warn", "error":
		return v
	default:
		return "off"
	}
}

// ExecutionMode reports DEFAULT_EXECUTION_MODE, one of {parallel,
// sequential}, defaulting to "parallel". "sequential" is equivalent to
// MAX_PARALLEL_TASKS=1 and is applied by the caller when building the
// executor's parallelism setting.
func ExecutionMode() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DEFAULT_EXECUTION_MODE")))
	if v == "sequential" {
		return v
	}
	return "parallel"
}

// VerifyTLSOverride reports whether VERIFY_TLS is set, and its boolean
// value when it is.
func VerifyTLSOverride() (bool, bool) {
	raw := os.Getenv("VERIFY_TLS")
	if raw == "" {
		return false, false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return b, true
}
