package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/adapters/store"
	"github.com/sachin-iam/sortify/internal/config"
	"github.com/sachin-iam/sortify/internal/core"
)

// Stores bundles the three persistence ports. All backends implement every
// port from one instance so messages, categories and jobs share a database.
type Stores struct {
	Messages   core.MessageStore
	Categories core.CategoryStore
	Jobs       core.JobStore
}

// StoreFactory creates persistence backends based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStores creates the persistence backends based on the configuration
func (f *StoreFactory) CreateStores() (*Stores, error) {
	storeConfig := f.cfg.GetStore()

	switch storeConfig.Type {
	case "memory":
		s := store.NewMemoryStore(f.logger)
		return &Stores{Messages: s, Categories: s, Jobs: s}, nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(storeConfig.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		s, err := store.NewSQLiteStore(storeConfig.SQLitePath, f.logger)
		if err != nil {
			return nil, err
		}
		return &Stores{Messages: s, Categories: s, Jobs: s}, nil
	case "mysql":
		s, err := store.NewMySQLStore(storeConfig.MySQLDSN, f.logger)
		if err != nil {
			return nil, err
		}
		return &Stores{Messages: s, Categories: s, Jobs: s}, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeConfig.Type)
	}
}
