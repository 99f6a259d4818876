package replicator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncbridge-io/syncbridge/internal/document"
)

// fussyPeer rejects configurations according to its script.
type fussyPeer struct {
	store  *document.Store
	reject error

	gotPull     bool
	gotFiltered bool
}

func (p *fussyPeer) RemoteURL() string      { return "nats://broker:4222/other" }
func (p *fussyPeer) RemoteDatabase() string { return "other" }
func (p *fussyPeer) Local() *document.Store { return p.store }

func (p *fussyPeer) SupportsReplication(pull, filtered bool) error {
	p.gotPull = pull
	p.gotFiltered = filtered
	return p.reject
}

func TestConfigValidate(t *testing.T) {
	store := newTestStore(t, "cfg")

	t.Run("requires a database", func(t *testing.T) {
		err := Config{Endpoint: &fussyPeer{}}.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database")
	})

	t.Run("requires an endpoint", func(t *testing.T) {
		err := Config{Database: store}.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "endpoint")
	})

	t.Run("asks the endpoint about the configured shape", func(t *testing.T) {
		cases := []struct {
			name         string
			direction    Direction
			pullFilter   Filter
			wantPull     bool
			wantFiltered bool
		}{
			{"push only", Push, nil, false, false},
			{"pull only", Pull, nil, true, false},
			{"both with pull filter", PushAndPull, func(*document.Document, bool) bool { return true }, true, true},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				peer := &fussyPeer{store: store}
				cfg := Config{
					Database:   store,
					Endpoint:   peer,
					Direction:  tc.direction,
					PullFilter: tc.pullFilter,
				}
				require.NoError(t, cfg.Validate())
				assert.Equal(t, tc.wantPull, peer.gotPull)
				assert.Equal(t, tc.wantFiltered, peer.gotFiltered)
			})
		}
	})

	t.Run("endpoint rejection is wrapped", func(t *testing.T) {
		cause := errors.New("pull filters are not supported")
		cfg := Config{Database: store, Endpoint: &fussyPeer{reject: cause}}
		err := cfg.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("is pure", func(t *testing.T) {
		cfg := Config{Database: store, Endpoint: &fussyPeer{store: store}}
		require.NoError(t, cfg.Validate())
		require.NoError(t, cfg.Validate())
	})
}

func TestDirection(t *testing.T) {
	t.Run("string round trip", func(t *testing.T) {
		for _, d := range []Direction{PushAndPull, Push, Pull} {
			got, err := ParseDirection(d.String())
			require.NoError(t, err)
			assert.Equal(t, d, got)
		}
	})

	t.Run("empty string defaults to pushAndPull", func(t *testing.T) {
		got, err := ParseDirection("")
		require.NoError(t, err)
		assert.Equal(t, PushAndPull, got)
	})

	t.Run("unknown direction is rejected", func(t *testing.T) {
		_, err := ParseDirection("sideways")
		require.Error(t, err)
	})

	t.Run("enabled directions", func(t *testing.T) {
		assert.True(t, PushAndPull.PushEnabled())
		assert.True(t, PushAndPull.PullEnabled())
		assert.True(t, Push.PushEnabled())
		assert.False(t, Push.PullEnabled())
		assert.False(t, Pull.PushEnabled())
		assert.True(t, Pull.PullEnabled())
	})
}
