// Package testing flips the process into test mode on import. Tests blank
// import it so entry points and the PDF client never reach real services.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

const (
	testModeEnv  = "TAXDESK_TEST_MODE"
	gotenbergEnv = "GOTENBERG_URL"
	// unroutable so an accidental render fails fast
	offlineGotenberg = "http://127.0.0.1:0"
)

var once sync.Once

func enable() {
	once.Do(func() {
		_ = os.Setenv(testModeEnv, "1")
		if os.Getenv(gotenbergEnv) == "" {
			_ = os.Setenv(gotenbergEnv, offlineGotenberg)
		}
	})
}

func init() {
	enable()
}

// TestMain lets a package delegate its own TestMain here.
func TestMain(m *stdtesting.M) {
	enable()
	os.Exit(m.Run())
}
