package daemon

import (
	"fmt"
	"io"

	"github.com/petal-labs/arbor/bus"
)

// OpenEventStore opens the event store selected by cfg.
func OpenEventStore(cfg StoreConfig) (bus.EventStore, error) {
	switch cfg.Driver {
	case "", StoreMemory:
		return bus.NewMemEventStore(), nil
	case StoreSQLite:
		return bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{
			DSN:          cfg.DSN,
			RetentionAge: cfg.Retention,
		})
	case StoreRedis:
		var opts []bus.RedisOption
		if cfg.Prefix != "" {
			opts = append(opts, bus.WithRedisPrefix(cfg.Prefix))
		}
		if cfg.Retention > 0 {
			opts = append(opts, bus.WithRedisTTL(cfg.Retention))
		}
		return bus.NewRedisEventStore(cfg.Addr, cfg.Password, cfg.DB, opts...), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// CloseEventStore releases the store's resources if it holds any.
func CloseEventStore(store bus.EventStore) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
