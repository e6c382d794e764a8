// factory.go maps backend type strings (local, s3, azure, gcs) to
// constructor functions and dispatches NewBackend calls.
package storage

import (
	"fmt"

	"github.com/aerodocs/aerodocs/internal/config"
)

// FactoryFunc constructs a storage backend from configuration
type FactoryFunc func(*config.Config) (Backend, error)

var factories = make(map[string]FactoryFunc)

// Register registers a storage backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// NewBackend creates the configured storage backend
func NewBackend(cfg *config.Config) (Backend, error) {
	factory, ok := factories[cfg.Storage.DefaultBackend]
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %s (must be 'local', 'azure', 's3', or 'gcs')", cfg.Storage.DefaultBackend)
	}

	return factory(cfg)
}
