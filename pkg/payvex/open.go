package payvex

import (
	"fmt"

	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/config"
	"github.com/payvex/payvex/internal/logging"
	"github.com/payvex/payvex/pkg/client"
)

// Open builds an adapter from cfg. Inline mode runs against tx; remote mode
// connects to cfg.Remote over HTTP and ignores tx.
func Open(cfg *config.Config, tx backend.Tx, logger *logging.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	opts := Options{
		Prefix:          cfg.Prefix,
		FieldPrefix:     cfg.FieldPrefix,
		Catalog:         catalog,
		Logger:          logger,
		BulkConcurrency: cfg.GetBulkConcurrency(),
	}

	if cfg.Mode == config.ModeRemote {
		conn, err := client.New(client.Options{
			URL:     cfg.Remote.URL,
			Token:   cfg.Remote.Token,
			Timeout: cfg.Remote.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		return NewRemote(conn, opts)
	}

	if tx == nil {
		return nil, fmt.Errorf("%w: inline mode requires a backend", config.ErrInvalidConfig)
	}
	return NewInline(tx, opts)
}
