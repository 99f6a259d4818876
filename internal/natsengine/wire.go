package natsengine

import (
	"encoding/json"
	"fmt"

	"github.com/syncbridge-io/syncbridge/internal/document"
)

// headerOrigin names the store that published a revision, so a puller can
// skip its own echoes.
const headerOrigin = "Sync-Origin"

// streamName returns the JetStream stream carrying revisions for a database.
func streamName(db string) string {
	return fmt.Sprintf("SYNC_%s", db)
}

// revisionSubject returns the subject revisions for a database are published
// on.
func revisionSubject(db string) string {
	return fmt.Sprintf("sync.%s.revs", db)
}

// checkpointBucket returns the KV bucket holding session checkpoints for a
// database.
func checkpointBucket(db string) string {
	return fmt.Sprintf("sync-%s-checkpoint", db)
}

// wireRevision is the JSON form of a revision on the stream.
type wireRevision struct {
	DocID   string          `json:"docId"`
	Deleted bool            `json:"deleted,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

func encodeWireRevision(rev document.Revision) ([]byte, error) {
	w := wireRevision{
		DocID:   rev.DocID,
		Deleted: rev.Flags.Deleted(),
		Body:    rev.Body,
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode revision %s: %w", rev.DocID, err)
	}
	return data, nil
}

func decodeWireRevision(data []byte) (document.Revision, error) {
	var w wireRevision
	if err := json.Unmarshal(data, &w); err != nil {
		return document.Revision{}, fmt.Errorf("decode revision: %w", err)
	}
	if w.DocID == "" {
		return document.Revision{}, fmt.Errorf("decode revision: missing docId")
	}
	rev := document.Revision{DocID: w.DocID, Body: w.Body}
	if w.Deleted {
		rev.Flags |= document.RevDeleted
		rev.Body = nil
	}
	return rev, nil
}
