package main

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"mediapipe/internal/logging"
	"mediapipe/internal/models"
)

type commandContext struct {
	configFlag *string

	once   sync.Once
	config *config
	err    error
}

type config struct {
	*models.Config
	logger *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureConfig loads the config and builds the root logger once per process.
func (c *commandContext) ensureConfig() (*config, error) {
	c.once.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := models.LoadConfig(path)
		if err != nil {
			c.err = err
			return
		}
		logger, err := logging.New(logging.Options{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: os.Stderr,
		})
		if err != nil {
			c.err = err
			return
		}
		c.config = &config{Config: cfg, logger: logger}
	})
	return c.config, c.err
}
