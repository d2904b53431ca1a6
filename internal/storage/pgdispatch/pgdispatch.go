package pgdispatch

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type Storage struct {
	db *pgxpool.Pool
}

func New(connString string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	db, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}

	s := &Storage{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// LockRestaurant takes the per-restaurant advisory lock that serializes a
// whole dispatch pass. Runs for different restaurants proceed in parallel;
// two runs for the same restaurant queue behind each other.
// Держим выделенный коннект из пула, пока лок не отпущен.
func (s *Storage) LockRestaurant(ctx context.Context, restaurantID int64) (func(), error) {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire conn")
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, restaurantID); err != nil {
		conn.Release()
		return nil, errors.Wrap(err, "advisory lock")
	}

	release := func() {
		// Unlock must not depend on the caller's (possibly cancelled) ctx.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, restaurantID)
		conn.Release()
	}
	return release, nil
}
