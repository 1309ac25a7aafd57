package cmd

import (
	"os"
	"strings"
	"testing"
)

// childEnv makes the test binary act as relay-worker, so process tests
// can exercise the real exit path.
const childEnv = "RELAY_TEST_CHILD"

func TestMain(m *testing.M) {
	if os.Getenv(childEnv) == "1" {
		os.Exit(Main(strings.Fields(os.Getenv("RELAY_TEST_ARGS"))))
	}
	os.Exit(m.Run())
}
