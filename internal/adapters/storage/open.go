package storage

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/cardbot/internal/ports"
)

// Config elige el driver del store.
type Config struct {
	Driver   string // sqlite | mongo
	DSN      string // ruta de SQLite
	MongoURL string
	MongoDB  string
}

// Open abre el store configurado.
func Open(ctx context.Context, cfg Config) (ports.TradeStore, error) {
	switch cfg.Driver {
	case "", "sqlite":
		s, err := NewSQLiteStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mongo":
		s, err := NewMongoStore(ctx, cfg.MongoURL, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("storage.Open: unknown driver %q", cfg.Driver)
	}
}
