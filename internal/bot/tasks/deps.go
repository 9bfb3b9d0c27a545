// Package tasks implements the bot's scheduled maintenance tasks.
package tasks

import (
	"log/slog"

	"github.com/edgard/wardenbot/internal/config"
	"github.com/edgard/wardenbot/internal/database"
	"github.com/edgard/wardenbot/internal/pipeline"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger   *slog.Logger
	Store    database.Store
	Pipeline *pipeline.Context
	Config   *config.Config
}
