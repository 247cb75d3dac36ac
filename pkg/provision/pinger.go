package provision

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Pinger performs the connectivity smoke test against a resolved database.
type Pinger interface {
	Ping(ctx context.Context, dsn string) error
}

// PostgresPinger opens a short-lived connection and round-trips one ping.
type PostgresPinger struct{}

func (PostgresPinger) Ping(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("opening connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}
