package vm

import (
	"github.com/tliron/commonlog"

	"github.com/chazu/garnet/manifest"

	_ "github.com/tliron/commonlog/simple"
)

var (
	vmLog    = commonlog.GetLogger("garnet.vm")
	gcLog    = commonlog.GetLogger("garnet.gc")
	fiberLog = commonlog.GetLogger("garnet.fiber")
)

// ConfigureLogging applies the log section of a configuration.
func ConfigureLogging(cfg *manifest.Config) {
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogPath())
}
