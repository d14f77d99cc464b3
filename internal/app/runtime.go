package app

import (
	"os"
	"strconv"
)

// TestModeEnv names the variable that makes the binaries exit before touching
// Postgres or Redis.
const TestModeEnv = "ROLEGUARD_TEST_MODE"

// InTestMode reports whether TestModeEnv holds a true value.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}
