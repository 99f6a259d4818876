package natsengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncbridge-io/syncbridge/internal/document"
	"github.com/syncbridge-io/syncbridge/internal/engine"
)

// statusLog collects callback statuses from a session's goroutines.
type statusLog struct {
	mu       sync.Mutex
	statuses []engine.Status
}

func (l *statusLog) record(_ engine.Session, st engine.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, st)
}

func (l *statusLog) terminal() (engine.Status, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, st := range l.statuses {
		if st.Level == engine.Stopped {
			return st, true
		}
	}
	return engine.Status{}, false
}

func (l *statusLog) seen(level engine.ActivityLevel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, st := range l.statuses {
		if st.Level == level {
			return true
		}
	}
	return false
}

func waitStopped(t *testing.T, log *statusLog) engine.Status {
	t.Helper()
	var st engine.Status
	require.Eventually(t, func() bool {
		var ok bool
		st, ok = log.terminal()
		return ok
	}, 5*time.Second, 10*time.Millisecond, "session never reported a terminal status")
	return st
}

func newStore(t *testing.T, name string) *document.Store {
	t.Helper()
	s, err := document.OpenInMemory(name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func putDocs(t *testing.T, s *document.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := s.Put(id, []byte(`{"id":"`+id+`"}`))
		require.NoError(t, err)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	e := New()
	e.InitTransport()
	ctx := context.Background()
	local := newStore(t, "local")

	cases := []struct {
		name   string
		params engine.Params
		domain string
	}{
		{
			name:   "missing local store",
			params: engine.Params{Push: engine.ModeOneShot},
			domain: engine.DomainEngine,
		},
		{
			name:   "both directions disabled",
			params: engine.Params{Local: local},
			domain: engine.DomainEngine,
		},
		{
			name:   "remote without address",
			params: engine.Params{Local: local, Push: engine.ModeOneShot},
			domain: engine.DomainEngine,
		},
		{
			name: "unsupported scheme",
			params: engine.Params{
				Local:          local,
				RemoteURL:      "http://broker:4222",
				RemoteDatabase: "other",
				Push:           engine.ModeOneShot,
			},
			domain: engine.DomainTransport,
		},
		{
			name: "malformed options blob",
			params: engine.Params{
				Local:   local,
				Push:    engine.ModeOneShot,
				Options: []byte(`{`),
			},
			domain: engine.DomainEngine,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.CreateSession(ctx, tc.params)
			require.Error(t, err)
			var engErr *engine.Error
			require.ErrorAs(t, err, &engErr)
			assert.Equal(t, tc.domain, engErr.Domain)
		})
	}
}

func TestLocalSessionPush(t *testing.T) {
	e := New()
	ctx := context.Background()

	t.Run("one-shot copies everything then stops", func(t *testing.T) {
		src := newStore(t, "src")
		dst := newStore(t, "dst")
		putDocs(t, src, "a", "b", "c")

		log := &statusLog{}
		_, err := e.CreateSession(ctx, engine.Params{
			Local:           src,
			OtherLocal:      dst,
			Push:            engine.ModeOneShot,
			OnStatusChanged: log.record,
		})
		require.NoError(t, err)

		st := waitStopped(t, log)
		assert.Nil(t, st.Err)
		assert.Equal(t, uint64(3), st.Progress.DocumentCount)
		assert.Equal(t, st.Progress.UnitsTotal, st.Progress.UnitsCompleted)

		for _, id := range []string{"a", "b", "c"} {
			rev, err := dst.Get(id)
			require.NoError(t, err)
			assert.JSONEq(t, `{"id":"`+id+`"}`, string(rev.Body))
		}

		// The checkpoint landed at the source's last sequence.
		last, err := src.LastSequence()
		require.NoError(t, err)
		cp, err := src.GetState("checkpoint.push.dst")
		require.NoError(t, err)
		assert.Equal(t, last, cp)
	})

	t.Run("tombstones propagate", func(t *testing.T) {
		src := newStore(t, "src")
		dst := newStore(t, "dst")
		putDocs(t, src, "doomed")
		_, err := src.Delete("doomed")
		require.NoError(t, err)

		log := &statusLog{}
		_, err = e.CreateSession(ctx, engine.Params{
			Local:           src,
			OtherLocal:      dst,
			Push:            engine.ModeOneShot,
			OnStatusChanged: log.record,
		})
		require.NoError(t, err)
		waitStopped(t, log)

		rev, err := dst.Get("doomed")
		require.NoError(t, err)
		assert.True(t, rev.Flags.Deleted())
	})

	t.Run("a second run resumes from the checkpoint", func(t *testing.T) {
		src := newStore(t, "src")
		dst := newStore(t, "dst")
		putDocs(t, src, "a", "b")

		log := &statusLog{}
		params := engine.Params{
			Local:           src,
			OtherLocal:      dst,
			Push:            engine.ModeOneShot,
			OnStatusChanged: log.record,
		}
		_, err := e.CreateSession(ctx, params)
		require.NoError(t, err)
		waitStopped(t, log)

		putDocs(t, src, "c")

		log2 := &statusLog{}
		params.OnStatusChanged = log2.record
		_, err = e.CreateSession(ctx, params)
		require.NoError(t, err)
		st := waitStopped(t, log2)

		assert.Equal(t, uint64(1), st.Progress.DocumentCount, "only the new document is copied")
	})

	t.Run("reset checkpoint re-copies from scratch", func(t *testing.T) {
		src := newStore(t, "src")
		dst := newStore(t, "dst")
		putDocs(t, src, "a", "b")

		log := &statusLog{}
		params := engine.Params{
			Local:           src,
			OtherLocal:      dst,
			Push:            engine.ModeOneShot,
			OnStatusChanged: log.record,
		}
		_, err := e.CreateSession(ctx, params)
		require.NoError(t, err)
		waitStopped(t, log)

		opts, err := engine.EncodeOptions(map[string]any{engine.OptionResetCheckpoint: true})
		require.NoError(t, err)
		log2 := &statusLog{}
		params.OnStatusChanged = log2.record
		params.Options = opts
		_, err = e.CreateSession(ctx, params)
		require.NoError(t, err)
		st := waitStopped(t, log2)

		// Both documents are walked again; applying identical content is a
		// no-op at the destination, so progress counts them but nothing
		// changes.
		assert.Equal(t, uint64(2), st.Progress.UnitsCompleted)
	})

	t.Run("push filter skips rejected revisions but advances", func(t *testing.T) {
		src := newStore(t, "src")
		dst := newStore(t, "dst")
		putDocs(t, src, "keep-1", "drop-1", "keep-2")

		log := &statusLog{}
		_, err := e.CreateSession(ctx, engine.Params{
			Local:      src,
			OtherLocal: dst,
			Push:       engine.ModeOneShot,
			PushFilter: func(rev document.Revision) bool {
				return rev.DocID != "drop-1"
			},
			OnStatusChanged: log.record,
		})
		require.NoError(t, err)
		st := waitStopped(t, log)

		assert.Equal(t, uint64(2), st.Progress.DocumentCount)
		assert.Equal(t, uint64(3), st.Progress.UnitsCompleted, "rejected revisions still count as processed work")

		_, err = dst.Get("drop-1")
		assert.ErrorIs(t, err, document.ErrNotFound)
		_, err = dst.Get("keep-1")
		assert.NoError(t, err)

		// The checkpoint passed the rejected revision for good.
		last, err := src.LastSequence()
		require.NoError(t, err)
		cp, err := src.GetState("checkpoint.push.dst")
		require.NoError(t, err)
		assert.Equal(t, last, cp)
	})
}

func TestLocalSessionBidirectional(t *testing.T) {
	e := New()
	ctx := context.Background()

	src := newStore(t, "here")
	dst := newStore(t, "there")
	putDocs(t, src, "mine")
	putDocs(t, dst, "yours")

	log := &statusLog{}
	_, err := e.CreateSession(ctx, engine.Params{
		Local:           src,
		OtherLocal:      dst,
		Push:            engine.ModeOneShot,
		Pull:            engine.ModeOneShot,
		OnStatusChanged: log.record,
	})
	require.NoError(t, err)
	st := waitStopped(t, log)
	assert.Nil(t, st.Err)

	for _, s := range []*document.Store{src, dst} {
		_, err := s.Get("mine")
		assert.NoError(t, err)
		_, err = s.Get("yours")
		assert.NoError(t, err)
	}
}

func TestLocalSessionContinuous(t *testing.T) {
	e := New()
	ctx := context.Background()

	src := newStore(t, "src")
	dst := newStore(t, "dst")
	putDocs(t, src, "initial")

	log := &statusLog{}
	sess, err := e.CreateSession(ctx, engine.Params{
		Local:           src,
		OtherLocal:      dst,
		Push:            engine.ModeContinuous,
		OnStatusChanged: log.record,
	})
	require.NoError(t, err)

	// Catches up and goes idle.
	require.Eventually(t, func() bool {
		return log.seen(engine.Idle)
	}, 5*time.Second, 10*time.Millisecond)
	_, err = dst.Get("initial")
	require.NoError(t, err)

	// Picks up a change made while idle.
	putDocs(t, src, "late")
	require.Eventually(t, func() bool {
		_, err := dst.Get("late")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	// Stop is idempotent and yields exactly one terminal status.
	sess.Stop()
	sess.Stop()
	st := waitStopped(t, log)
	assert.Nil(t, st.Err)

	log.mu.Lock()
	terminals := 0
	for _, s := range log.statuses {
		if s.Level == engine.Stopped {
			terminals++
		}
	}
	log.mu.Unlock()
	assert.Equal(t, 1, terminals)

	assert.Equal(t, engine.Stopped, sess.Status().Level)
}

func TestWireRevision(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		data, err := encodeWireRevision(document.Revision{DocID: "d", Body: []byte(`{"v":1}`)})
		require.NoError(t, err)

		rev, err := decodeWireRevision(data)
		require.NoError(t, err)
		assert.Equal(t, "d", rev.DocID)
		assert.False(t, rev.Flags.Deleted())
		assert.JSONEq(t, `{"v":1}`, string(rev.Body))
	})

	t.Run("deletion clears the body", func(t *testing.T) {
		data, err := encodeWireRevision(document.Revision{DocID: "d", Flags: document.RevDeleted})
		require.NoError(t, err)

		rev, err := decodeWireRevision(data)
		require.NoError(t, err)
		assert.True(t, rev.Flags.Deleted())
		assert.Nil(t, rev.Body)
	})

	t.Run("missing docId is rejected", func(t *testing.T) {
		_, err := decodeWireRevision([]byte(`{"body":{}}`))
		require.Error(t, err)
	})

	t.Run("malformed payload is rejected", func(t *testing.T) {
		_, err := decodeWireRevision([]byte(`not json`))
		require.Error(t, err)
	})
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "SYNC_inventory", streamName("inventory"))
	assert.Equal(t, "sync.inventory.revs", revisionSubject("inventory"))
	assert.Equal(t, "sync-inventory-checkpoint", checkpointBucket("inventory"))
}
