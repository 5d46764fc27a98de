package logging_test

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/stevemurr/json-db-serve/logging"
)

func TestNew(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := logging.New(level)
		if err != nil {
			t.Fatalf("%s: %v", level, err)
		}
		want, _ := zapcore.ParseLevel(level)
		if !logger.Core().Enabled(want) {
			t.Fatalf("%s: level not enabled", level)
		}
		if want > zapcore.DebugLevel && logger.Core().Enabled(want-1) {
			t.Fatalf("%s: lower level enabled", level)
		}
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := logging.New("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
