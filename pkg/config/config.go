package config

import (
	"os"
	"strings"
	"sync"
)

// Config manages service configuration
type Config struct {
	mu     sync.RWMutex
	values map[string]string

	// Define which keys require restart when changed
	restartKeys []string
}

// New creates a new configuration manager
func New() *Config {
	return &Config{
		values: make(map[string]string),
		restartKeys: []string{
			"metadata.host",
			"metadata.port",
			"metadata.database",
			"server.port",
			"server.host",
		},
	}
}

// Get retrieves a configuration value
func (c *Config) Get(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// GetWithDefault retrieves a configuration value, falling back to def when unset
func (c *Config) GetWithDefault(key, def string) string {
	if v := c.Get(key); v != "" {
		return v
	}
	return def
}

// GetAll returns a copy of all configuration values
func (c *Config) GetAll() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	copy := make(map[string]string)
	for k, v := range c.values {
		copy[k] = v
	}
	return copy
}

// Set stores a single configuration value
func (c *Config) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Update updates configuration values
func (c *Config) Update(values map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range values {
		c.values[k] = v
	}
}

// LoadEnvironment overlays values from SHARDMAP_* environment variables.
// SHARDMAP_METADATA_HOST becomes metadata.host.
func (c *Config) LoadEnvironment() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, "SHARDMAP_") {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, "SHARDMAP_"))
		c.values[strings.ReplaceAll(name, "_", ".")] = value
	}
}

// RequiresRestart checks if any changed keys require a restart
func (c *Config) RequiresRestart(oldConfig map[string]string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, key := range c.restartKeys {
		if oldConfig[key] != c.values[key] {
			return true
		}
	}

	return false
}

// SetRestartKeys sets which configuration keys require restart when changed
func (c *Config) SetRestartKeys(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restartKeys = keys
}
