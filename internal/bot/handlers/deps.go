package handlers

import (
	"log/slog"

	"github.com/edgard/wardenbot/internal/config"
	"github.com/edgard/wardenbot/internal/database"
	"github.com/edgard/wardenbot/internal/pipeline"
	"github.com/edgard/wardenbot/internal/violation"
)

// HandlerDeps provides dependencies for Telegram command and message handlers.
type HandlerDeps struct {
	Logger   *slog.Logger
	Config   *config.Config
	Store    database.Store
	Pipeline *pipeline.Service
	Engine   *violation.Engine
}
