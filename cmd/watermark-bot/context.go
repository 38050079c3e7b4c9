package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/maauso/watermark-bot/internal/config"
)

type commandContext struct {
	envFileFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(envFileFlag *string) *commandContext {
	return &commandContext{envFileFlag: envFileFlag}
}

// ensureConfig loads the dotenv file, if any, and then the environment.
// A missing default .env is fine; a missing --env-file is not.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.envFileFlag != nil {
			path = strings.TrimSpace(*c.envFileFlag)
		}
		if path != "" {
			if err := godotenv.Load(path); err != nil {
				c.configErr = fmt.Errorf("load env file %s: %w", path, err)
				return
			}
		} else {
			_ = godotenv.Load()
		}

		cfg, err := config.Load()
		if err != nil {
			c.configErr = fmt.Errorf("load config: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *slog.Logger {
	cfg, err := c.ensureConfig()
	if err != nil {
		return slog.Default()
	}
	return cfg.NewLogger()
}
