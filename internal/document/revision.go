package document

// RevisionFlags carries per-revision attributes on the replication path.
type RevisionFlags uint8

const (
	// RevDeleted marks the revision as a tombstone.
	RevDeleted RevisionFlags = 1 << iota
)

// Deleted reports whether the revision is a deletion.
func (f RevisionFlags) Deleted() bool {
	return f&RevDeleted != 0
}

// Revision is one document revision as it travels between stores.
// The body is the document's JSON content; it is nil for deletions.
type Revision struct {
	DocID string
	Flags RevisionFlags
	Body  []byte

	// Sequence is the revision's position in the source store's change
	// feed. Zero for revisions arriving from a remote peer.
	Sequence uint64
}
