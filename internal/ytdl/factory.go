package ytdl

import (
	"github.com/datallboy/gotubedl/internal/engine"
	"github.com/datallboy/gotubedl/internal/infra/config"
)

// NewFactory picks the executor implementation configured by download.engine.
func NewFactory(cfg config.DownloadConfig, log engine.Sink) engine.ExecutorFactory {
	if cfg.Engine == config.EngineLibrary {
		return NewLibraryFactory(cfg.ToolPath(), log)
	}
	return NewExecFactory(cfg.ToolPath(), log)
}
