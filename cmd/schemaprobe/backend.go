package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cgast/schemaprobe/internal/config"
	"github.com/cgast/schemaprobe/pkg/backend"
	"github.com/cgast/schemaprobe/pkg/backend/fixture"
	"github.com/cgast/schemaprobe/pkg/backend/rest"
	"github.com/cgast/schemaprobe/pkg/backend/sqlite"
)

// openedBackend is a connected backend and how to release it.
type openedBackend struct {
	Clients backend.Clients
	close   func() error
}

func (b openedBackend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

func openBackend(bc config.BackendConfig, logger *zap.Logger) (openedBackend, error) {
	logger.Debug("opening backend", zap.String("driver", bc.Driver))

	switch bc.Driver {
	case config.DriverREST:
		var opts []rest.Option
		if bc.AnonKey != "" {
			opts = append(opts, rest.WithAnonKey(bc.AnonKey))
		}
		c, err := rest.New(bc.URL, bc.Key, opts...)
		if err != nil {
			return openedBackend{}, err
		}
		return openedBackend{Clients: c.Clients()}, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(bc.DSN)
		if err != nil {
			return openedBackend{}, err
		}
		return openedBackend{Clients: db.Clients(), close: db.Close}, nil

	case config.DriverFixture:
		// Verification only reads; a missing file stays missing.
		s, err := fixture.OpenReadOnly(bc.DSN)
		if err != nil {
			return openedBackend{}, fmt.Errorf("fixture %s: %w", bc.DSN, err)
		}
		return openedBackend{Clients: s.Clients(), close: s.Close}, nil
	}
	return openedBackend{}, fmt.Errorf("unknown backend driver %q", bc.Driver)
}
