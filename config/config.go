package config

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"scribe.town/db"
)

// Config layers the database config table over viper. Settings written
// by scribe setup live in the table; Load makes them visible to the
// rest of the program through viper.
type Config struct {
	store *db.Store
}

func New(store *db.Store) *Config {
	return &Config{store: store}
}

func (c *Config) Load(ctx context.Context) error {
	configs, err := c.store.AllConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for key, value := range configs {
		viper.Set(key, value)
	}

	return nil
}

func (c *Config) Get(ctx context.Context, key string) (string, error) {
	return c.store.GetConfig(ctx, key)
}

func (c *Config) Set(ctx context.Context, key, value string) error {
	if err := c.store.SetConfig(ctx, key, value); err != nil {
		return err
	}
	viper.Set(key, value)
	return nil
}
