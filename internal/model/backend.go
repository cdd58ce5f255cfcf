package model

import (
	"fmt"
	"sync"
)

// Backend builds the collaborator set for a model directory. Backends are
// compiled into the binary and install themselves with RegisterBackend,
// typically from an init function.
type Backend func(dir string) (*Model, error)

var (
	backendMu sync.RWMutex
	backend   Backend
)

// RegisterBackend installs the backend used by Load. Registering a second
// backend replaces the first; nil removes the registration.
func RegisterBackend(b Backend) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backend = b
}

// Load builds and validates the collaborator set for the given model
// directory. Without a registered backend it fails with
// ErrModelUnavailable.
func Load(dir string) (*Model, error) {
	backendMu.RLock()
	b := backend
	backendMu.RUnlock()

	if b == nil {
		return nil, fmt.Errorf("%w: no model backend compiled into this build", ErrModelUnavailable)
	}
	m, err := b(dir)
	if err != nil {
		return nil, fmt.Errorf("loading model from %s: %w", dir, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
