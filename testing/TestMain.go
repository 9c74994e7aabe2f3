// Package testing switches binaries into test mode when imported by tests,
// so main packages can be exercised without opening real connections.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
		if os.Getenv("BLOB_SIGNING_SECRET") == "" {
			_ = os.Setenv("BLOB_SIGNING_SECRET", "test-secret")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
