package app

import (
	"github.com/datallboy/gotubedl/internal/engine"
	"github.com/datallboy/gotubedl/internal/events"
	"github.com/datallboy/gotubedl/internal/infra/config"
	"github.com/datallboy/gotubedl/internal/infra/logger"
	"github.com/datallboy/gotubedl/internal/store"
)

// Context hold the core environment and shared resources for gotubedl.
// It acts as the "Single Source of Truth" for the application state.
type Context struct {
	Config *config.Live
	Logger *logger.Logger

	// Store is nil when history is disabled
	Store *store.PersistentStore

	Events *events.Hub

	// Installer is nil when download.auto_install is off
	Installer engine.Updater
}

// NewContext initializes the base environment.
func NewContext(cfg *config.Live, log *logger.Logger) *Context {
	if log == nil {
		log = logger.Nop()
	}
	return &Context{
		Config: cfg,
		Logger: log,
		Events: events.NewHub(),
	}
}
