// Package testing switches the binaries into test mode for any test binary
// that imports it.
package testing

import (
	"os"
	stdtesting "testing"
)

func init() {
	setDefault("STABLEGATE_TEST_MODE", "1")
	setDefault("LOG_FORMAT", "json")
}

func setDefault(key, value string) {
	if _, ok := os.LookupEnv(key); !ok {
		_ = os.Setenv(key, value)
	}
}

// TestMain runs the suite with test mode forced on.
func TestMain(m *stdtesting.M) {
	_ = os.Setenv("STABLEGATE_TEST_MODE", "1")
	os.Exit(m.Run())
}
