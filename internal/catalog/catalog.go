package catalog

import (
	"context"
	"errors"
)

// Source produces point-in-time snapshots of the item and file graph.
type Source interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Tagger reads and writes archiving tags. Applying a tag an item already
// carries and removing one it lacks both succeed.
type Tagger interface {
	ApplyTag(ctx context.Context, itemID int64, tag Tag, linkedBy int64) error
	RemoveTag(ctx context.Context, itemID int64, tag Tag) error
	QueryTags(ctx context.Context, itemID int64) ([]Tag, error)
}

// Catalog is the full upstream contract.
type Catalog interface {
	Source
	Tagger
}

// ErrItemNotFound is returned when tagging an item the catalog does not know.
var ErrItemNotFound = errors.New("item not found")
