package testutils

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

// TestHelper bundles the per-test logger.
type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a helper whose logger is discarded unless the test
// runs with -v.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	if testing.Verbose() {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetOutput(io.Discard)
	}
	return &TestHelper{T: t, Logger: logger}
}

// MustJSON marshals v or panics; for building expected-JSON literals.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
