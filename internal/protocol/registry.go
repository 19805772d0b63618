// internal/protocol/registry.go
package protocol

import (
	"fmt"
	"sync"

	"github.com/rovshanmuradov/curve-bundler/internal/ledger"
	"go.uber.org/zap"
)

// Registry resolves factory addresses to deployed factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[ledger.Address]Factory
	logger    *zap.Logger
}

// NewRegistry creates a new factory registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		factories: make(map[ledger.Address]Factory),
		logger:    logger.Named("factory_registry"),
	}
}

// Register adds a factory under its own address.
func (r *Registry) Register(f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr := f.Address()
	if _, exists := r.factories[addr]; exists {
		return fmt.Errorf("factory %s already registered", addr)
	}

	r.factories[addr] = f

	r.logger.Info("Factory registered",
		zap.String("address", addr.String()),
		zap.String("deploy_fee", f.DeployFee().Dec()))

	return nil
}

// Get retrieves a factory by address.
func (r *Registry) Get(addr ledger.Address) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, exists := r.factories[addr]
	if !exists {
		return nil, fmt.Errorf("%s: %w", addr, ErrFactoryNotFound)
	}

	return f, nil
}

// List returns all registered factory addresses.
func (r *Registry) List() []ledger.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addrs := make([]ledger.Address, 0, len(r.factories))
	for addr := range r.factories {
		addrs = append(addrs, addr)
	}

	return addrs
}
