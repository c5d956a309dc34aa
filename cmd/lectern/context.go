package main

import (
	"strings"
	"sync"

	"lectern/internal/api"
	"lectern/internal/config"
	"lectern/internal/filestore"
	"lectern/internal/logging"
	"lectern/internal/queue"
	"lectern/internal/quota"
	"lectern/internal/templates"
)

// commandContext lazily opens the queue database and shares it between
// subcommands of one invocation.
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	storeOnce sync.Once
	store     *queue.Store
	storeErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureStore() (*queue.Store, error) {
	c.storeOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.storeErr = err
			return
		}
		c.store, c.storeErr = queue.Open(cfg)
	})
	return c.store, c.storeErr
}

func (c *commandContext) close() {
	if c.store != nil {
		_ = c.store.Close()
	}
}

func (c *commandContext) service() (*api.Service, error) {
	store, err := c.ensureStore()
	if err != nil {
		return nil, err
	}
	return api.NewService(store, nil), nil
}

func (c *commandContext) actions() (*api.Actions, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := c.ensureStore()
	if err != nil {
		return nil, err
	}
	blobs, err := filestore.New(cfg)
	if err != nil {
		return nil, err
	}
	matcher, err := templates.NewMatcher(store)
	if err != nil {
		return nil, err
	}
	return api.NewActions(store, blobs, quota.NewGate(store), matcher, logging.NewNop()), nil
}
