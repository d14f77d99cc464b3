// Package testing forces test mode for any package that imports it, so the
// command entry points never dial real backends from a test binary.
package testing

import "os"

func init() {
	if os.Getenv("ROLEGUARD_TEST_MODE") == "" {
		_ = os.Setenv("ROLEGUARD_TEST_MODE", "1")
	}
}
