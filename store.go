package main

import (
	"context"
	"errors"
)

var ErrItemNotFound = errors.New("item not found")

// durable key-value storage for items, keyed by item["id"]
type ItemStore interface {
	// writes the item, replacing any record with the same id
	PutItem(ctx context.Context, item Item) error

	// loads a previously written item, ErrItemNotFound when absent
	GetItem(ctx context.Context, id string) (Item, error)

	// releases any resources, could be a noop if not required
	Close() error
}
