package document

import (
	"encoding/json"
	"fmt"
)

// Document is a read-only view over a single revision, handed to replication
// filters. It is only valid for the duration of the filter call and must not
// be retained.
type Document struct {
	id      string
	deleted bool
	body    []byte

	props map[string]any
}

// FromRevision builds a document view over a revision.
func FromRevision(rev Revision) *Document {
	return &Document{
		id:      rev.DocID,
		deleted: rev.Flags.Deleted(),
		body:    rev.Body,
	}
}

// ID returns the document ID.
func (d *Document) ID() string {
	return d.id
}

// Deleted reports whether this revision is a tombstone.
func (d *Document) Deleted() bool {
	return d.deleted
}

// Body returns the raw JSON body. Nil for deletions.
func (d *Document) Body() []byte {
	return d.body
}

// Properties returns the decoded document body. The body is decoded on first
// use and cached for the lifetime of the view. Deletions decode to an empty
// map.
func (d *Document) Properties() (map[string]any, error) {
	if d.props != nil {
		return d.props, nil
	}
	if len(d.body) == 0 {
		d.props = map[string]any{}
		return d.props, nil
	}
	var props map[string]any
	if err := json.Unmarshal(d.body, &props); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", d.id, err)
	}
	d.props = props
	return d.props, nil
}
