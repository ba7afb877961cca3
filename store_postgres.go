package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// one JSONB row per item in the configured table
type PostgresItemStore struct {
	db      *sql.DB
	queries *Queries
}

func NewPostgresItemStore(ctx context.Context, databaseURL, tableName string) (*PostgresItemStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &PostgresItemStore{
		db:      db,
		queries: NewQueries(db, tableName),
	}

	if err := store.queries.CreateItemsTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table %s: %w", tableName, err)
	}

	return store, nil
}

func (p *PostgresItemStore) PutItem(ctx context.Context, item Item) error {
	data, err := marshalJSON(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}

	return p.queries.UpsertItem(ctx, UpsertItemParams{
		ID:        item.ID(),
		Item:      data,
		CreatedAt: time.Now(),
	})
}

func (p *PostgresItemStore) GetItem(ctx context.Context, id string) (Item, error) {
	data, err := p.queries.GetItem(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return parseItem(data)
}

func (p *PostgresItemStore) Close() error {
	return p.db.Close()
}

type Queries struct {
	db DBTX

	createTable string
	upsertItem  string
	getItem     string
}

func NewQueries(db DBTX, tableName string) *Queries {
	table := pq.QuoteIdentifier(tableName)

	return &Queries{
		db: db,
		createTable: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id         TEXT PRIMARY KEY,
    item       JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
)`, table),
		upsertItem: fmt.Sprintf(`INSERT INTO %s (id, item, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET item = EXCLUDED.item, created_at = EXCLUDED.created_at`, table),
		getItem: fmt.Sprintf(`SELECT item FROM %s WHERE id = $1`, table),
	}
}

type UpsertItemParams struct {
	ID        string
	Item      []byte
	CreatedAt time.Time
}

func (q *Queries) CreateItemsTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, q.createTable)
	return err
}

func (q *Queries) UpsertItem(ctx context.Context, arg UpsertItemParams) error {
	_, err := q.db.ExecContext(ctx, q.upsertItem,
		arg.ID,
		string(arg.Item),
		arg.CreatedAt,
	)
	return err
}

func (q *Queries) GetItem(ctx context.Context, id string) ([]byte, error) {
	var item []byte
	err := q.db.QueryRowContext(ctx, q.getItem, id).Scan(&item)
	return item, err
}
