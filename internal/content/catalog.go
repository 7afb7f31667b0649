package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownContentType indicates the catalog has no entries for a type.
var ErrUnknownContentType = errors.New("content: unknown content type")

// CatalogItem is the opaque payload the engine hands to clients; the engine
// never interprets it.
type CatalogItem struct {
	Title   string
	Payload json.RawMessage
}

// Catalog supplies concrete content for a type at a progression position.
// Pick must be deterministic: the same type, branch, and position always
// return the same item, so both devices compute identical candidates.
type Catalog interface {
	Types() []ContentType
	Pick(contentType ContentType, branch string, position int64) (CatalogItem, error)
}

// StaticCatalog serves a fixed in-memory item list per content type,
// wrapping around when the cursor position passes the end.
type StaticCatalog struct {
	entries map[ContentType][]CatalogItem
	types   []ContentType
}

// NewStaticCatalog constructs a catalog from per-type item lists.
func NewStaticCatalog(entries map[ContentType][]CatalogItem) (*StaticCatalog, error) {
	if len(entries) == 0 {
		return nil, errors.New("content: catalog requires at least one content type")
	}
	types := make([]ContentType, 0, len(entries))
	for contentType, items := range entries {
		if len(items) == 0 {
			return nil, fmt.Errorf("content: catalog type %s has no items", contentType)
		}
		types = append(types, contentType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return &StaticCatalog{entries: entries, types: types}, nil
}

// Types returns the content types in a stable order.
func (c *StaticCatalog) Types() []ContentType {
	return append([]ContentType(nil), c.types...)
}

// Pick returns the item at the given position, wrapping around the list.
func (c *StaticCatalog) Pick(contentType ContentType, branch string, position int64) (CatalogItem, error) {
	items, ok := c.entries[contentType]
	if !ok {
		return CatalogItem{}, fmt.Errorf("%w: %s", ErrUnknownContentType, contentType)
	}
	if position < 0 {
		position = 0
	}
	return items[position%int64(len(items))], nil
}
