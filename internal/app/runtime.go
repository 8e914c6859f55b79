package app

import (
	"os"
	"strconv"
)

const testModeEnv = "STABLEGATE_TEST_MODE"

// InTestMode reports whether STABLEGATE_TEST_MODE asks the binaries to skip
// opening listeners and connections. The variable is read on every call so
// tests may toggle it.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(testModeEnv))
	return err == nil && on
}
