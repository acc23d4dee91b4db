package vm

import (
	"testing"

	"github.com/tliron/commonlog"

	"github.com/chazu/garnet/manifest"
)

// ---------------------------------------------------------------------------
// Logging configuration
// ---------------------------------------------------------------------------

func TestWithConfigAppliesLogVerbosity(t *testing.T) {
	t.Cleanup(func() { ConfigureLogging(manifest.Default()) })

	tests := []struct {
		verbosity int
		want      commonlog.Level
	}{
		{2, commonlog.Debug},
		{1, commonlog.Info},
		{-1, commonlog.Warning},
		{-4, commonlog.None},
	}
	for _, tt := range tests {
		cfg := manifest.Default()
		cfg.Log.Verbosity = tt.verbosity
		newTestVM(t, WithConfig(cfg))
		if got := commonlog.GetMaxLevel("garnet", "vm"); got != tt.want {
			t.Errorf("verbosity %d: level = %v, want %v", tt.verbosity, got, tt.want)
		}
	}
}

func TestNewVMLeavesLoggingAlone(t *testing.T) {
	t.Cleanup(func() { ConfigureLogging(manifest.Default()) })

	cfg := manifest.Default()
	cfg.Log.Verbosity = 2
	ConfigureLogging(cfg)
	newTestVM(t)
	if got := commonlog.GetMaxLevel("garnet", "vm"); got != commonlog.Debug {
		t.Errorf("level = %v after NewVM without WithConfig, want %v", got, commonlog.Debug)
	}
}
