package commands

import (
	"fmt"

	"github.com/peerdaemon/peerd/internal/logger"
	"github.com/peerdaemon/peerd/pkg/config"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(opts *config.Options) error {
	loggerCfg := logger.Config{
		Level:  opts.Logging.Level,
		Format: opts.Logging.Format,
		Output: opts.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
