package app

import (
	"os"
	"sync/atomic"
)

// TestModeEnv, when "1", makes the binaries exit before touching Redis,
// Postgres or the network.
const TestModeEnv = "PORTAL_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether the binaries should skip runtime side effects.
// The environment is read once; RefreshTestMode re-reads it.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads TestModeEnv and returns the new value.
func RefreshTestMode() bool {
	on := os.Getenv(TestModeEnv) == "1"
	testMode.Store(&on)
	return on
}
