package transport

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/flowrelay/flowrelay/internal/config"
)

// Factory is a constructor function that creates a new Transport instance.
type Factory func(cfg *config.Config, log *slog.Logger) (Transport, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a transport factory available by delivery-mode name.
// It is typically called from an init() function in the adapter package.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("transport: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New creates a new Transport for the given delivery mode.
func New(name string, cfg *config.Config, log *slog.Logger) (Transport, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("transport: unknown delivery mode %q", name)
	}
	return factory(cfg, log)
}

// Available returns the names of all registered delivery modes.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
