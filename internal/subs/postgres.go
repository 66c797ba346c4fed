package subs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore keeps the subscription set as one jsonb row keyed by a
// fixed namespace, so Save stays a full-replace write like the file
// backend.
type PostgresStore struct {
	db        *sql.DB
	namespace string
}

const defaultNamespace = "busSubscriptions"

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// NewPostgresStore ensures the backing table exists and returns a
// store bound to the fixed namespace.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	q := `
CREATE TABLE IF NOT EXISTS subscriptions (
    namespace  text PRIMARY KEY,
    data       jsonb NOT NULL,
    updated_at timestamptz NOT NULL DEFAULT now()
)`
	if _, err := db.ExecContext(ctx, q); err != nil {
		return nil, fmt.Errorf("create subscriptions table: %w", err)
	}
	return &PostgresStore{db: db, namespace: defaultNamespace}, nil
}

func (s *PostgresStore) Load() ([]Subscription, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var data []byte
	q := `SELECT data FROM subscriptions WHERE namespace = $1`
	err := s.db.QueryRowContext(ctx, q, s.namespace).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}

	var subscriptions []Subscription
	if err := json.Unmarshal(data, &subscriptions); err != nil {
		return nil, fmt.Errorf("%w: namespace %s: %v", ErrCorrupt, s.namespace, err)
	}
	return subscriptions, nil
}

func (s *PostgresStore) Save(subscriptions []Subscription) error {
	if subscriptions == nil {
		subscriptions = []Subscription{}
	}
	data, err := json.Marshal(subscriptions)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := `
INSERT INTO subscriptions (namespace, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (namespace) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	if _, err := s.db.ExecContext(ctx, q, s.namespace, data); err != nil {
		return fmt.Errorf("save subscriptions: %w", err)
	}
	return nil
}
