package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLogUsableBeforeInit(t *testing.T) {
	Log.Infof("logging before Init must not panic: %d", 1)
}

func TestSetLevel(t *testing.T) {
	defer level.SetLevel(zapcore.InfoLevel)

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel(debug) returned error: %v", err)
	}
	if level.Level() != zapcore.DebugLevel {
		t.Errorf("Expected level debug, got %s", level.Level())
	}

	if err := SetLevel("loud"); err == nil {
		t.Error("SetLevel should reject unknown level names")
	}
}
