package natsengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncbridge-io/syncbridge/internal/document"
	"github.com/syncbridge-io/syncbridge/internal/engine"
	"github.com/syncbridge-io/syncbridge/testutil"
)

func TestRemoteSession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	// Start NATS container
	natsContainer, err := testutil.StartNATSContainer(ctx)
	require.NoError(t, err)
	defer func() { _ = natsContainer.Stop(ctx) }()

	e := New()
	e.InitTransport()

	t.Run("one-shot push then pull through the broker", func(t *testing.T) {
		alpha := newStore(t, "alpha")
		beta := newStore(t, "beta")
		putDocs(t, alpha, "a1", "a2")
		_, err := alpha.Delete("a2")
		require.NoError(t, err)

		pushLog := &statusLog{}
		_, err = e.CreateSession(ctx, engine.Params{
			Local:           alpha,
			RemoteURL:       natsContainer.URL,
			RemoteDatabase:  "oneshot",
			Push:            engine.ModeOneShot,
			OnStatusChanged: pushLog.record,
		})
		require.NoError(t, err)
		st := waitStopped(t, pushLog)
		require.Nil(t, st.Err)
		assert.Equal(t, uint64(2), st.Progress.DocumentCount)

		pullLog := &statusLog{}
		_, err = e.CreateSession(ctx, engine.Params{
			Local:           beta,
			RemoteURL:       natsContainer.URL,
			RemoteDatabase:  "oneshot",
			Pull:            engine.ModeOneShot,
			OnStatusChanged: pullLog.record,
		})
		require.NoError(t, err)
		st = waitStopped(t, pullLog)
		require.Nil(t, st.Err)

		rev, err := beta.Get("a1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"a1"}`, string(rev.Body))

		rev, err = beta.Get("a2")
		require.NoError(t, err)
		assert.True(t, rev.Flags.Deleted(), "tombstones replicate through the broker")
	})

	t.Run("continuous bidirectional replication converges", func(t *testing.T) {
		left := newStore(t, "left")
		right := newStore(t, "right")

		params := engine.Params{
			RemoteURL:      natsContainer.URL,
			RemoteDatabase: "bidi",
			Push:           engine.ModeContinuous,
			Pull:           engine.ModeContinuous,
		}

		leftLog := &statusLog{}
		params.Local = left
		params.OnStatusChanged = leftLog.record
		leftSess, err := e.CreateSession(ctx, params)
		require.NoError(t, err)

		rightLog := &statusLog{}
		params.Local = right
		params.OnStatusChanged = rightLog.record
		rightSess, err := e.CreateSession(ctx, params)
		require.NoError(t, err)

		putDocs(t, left, "from-left")
		putDocs(t, right, "from-right")

		for _, s := range []*document.Store{left, right} {
			for _, id := range []string{"from-left", "from-right"} {
				require.Eventually(t, func() bool {
					_, err := s.Get(id)
					return err == nil
				}, 15*time.Second, 50*time.Millisecond, "%s never arrived at %s", id, s.Name())
			}
		}

		// Own revisions must not echo back as new local changes: once both
		// sides are caught up, the sequence stays put.
		require.Eventually(t, func() bool {
			return leftLog.seen(engine.Idle) && rightLog.seen(engine.Idle)
		}, 15*time.Second, 50*time.Millisecond)

		before, err := left.LastSequence()
		require.NoError(t, err)
		time.Sleep(2 * pollInterval)
		after, err := left.LastSequence()
		require.NoError(t, err)
		assert.Equal(t, before, after, "replication must converge, not ping-pong")

		leftSess.Stop()
		rightSess.Stop()
		assert.Nil(t, waitStopped(t, leftLog).Err)
		assert.Nil(t, waitStopped(t, rightLog).Err)
	})

	t.Run("a new session resumes from the stored checkpoint", func(t *testing.T) {
		src := newStore(t, "resumer")
		putDocs(t, src, "first")

		params := engine.Params{
			Local:          src,
			RemoteURL:      natsContainer.URL,
			RemoteDatabase: "resume",
			Push:           engine.ModeOneShot,
		}

		log := &statusLog{}
		params.OnStatusChanged = log.record
		_, err := e.CreateSession(ctx, params)
		require.NoError(t, err)
		require.Nil(t, waitStopped(t, log).Err)

		putDocs(t, src, "second")

		log2 := &statusLog{}
		params.OnStatusChanged = log2.record
		_, err = e.CreateSession(ctx, params)
		require.NoError(t, err)
		st := waitStopped(t, log2)
		require.Nil(t, st.Err)
		assert.Equal(t, uint64(1), st.Progress.DocumentCount, "only the change after the checkpoint is pushed")
	})

	t.Run("unreachable broker fails session creation", func(t *testing.T) {
		src := newStore(t, "stranded")
		_, err := e.CreateSession(ctx, engine.Params{
			Local:          src,
			RemoteURL:      "nats://127.0.0.1:1",
			RemoteDatabase: "nowhere",
			Push:           engine.ModeOneShot,
		})
		require.Error(t, err)
		var engErr *engine.Error
		require.ErrorAs(t, err, &engErr)
		assert.Equal(t, engine.DomainTransport, engErr.Domain)
	})
}
