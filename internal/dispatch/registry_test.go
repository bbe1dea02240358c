package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatch/internal/guard"
)

func TestRegistrySelect(t *testing.T) {
	newAdapter := func() *fakeAdapter {
		return newFakeAdapter(func() *fakeConn { return &fakeConn{hasPeer: false} })
	}

	t.Run("Empty pool selects nothing", func(t *testing.T) {
		reg := newTestRegistry()
		assert.Nil(t, reg.Select("nobody-home"))
	})

	t.Run("Round robin - each worker exactly once per rotation", func(t *testing.T) {
		reg := newTestRegistry()
		adapter := newAdapter()

		var ids []string
		for i := 0; i < 3; i++ {
			w := startTestWorker(t, reg, adapter, true, guard.NewMemory())
			ids = append(ids, w.ID())
		}

		rotation := func() []string {
			var got []string
			for i := 0; i < 3; i++ {
				w := reg.Select("test-pool")
				require.NotNil(t, w)
				got = append(got, w.ID())
			}
			return got
		}

		first := rotation()
		assert.ElementsMatch(t, ids, first, "one rotation selects each worker exactly once")

		// Stable rotation: the second pass repeats the first pass order.
		assert.Equal(t, first, rotation())
	})

	t.Run("Selection skips terminated workers", func(t *testing.T) {
		reg := newTestRegistry()
		adapter := newAdapter()

		alive := startTestWorker(t, reg, adapter, true, guard.NewMemory())
		dying := startTestWorker(t, reg, adapter, true, guard.NewMemory())

		dying.Shutdown()
		<-dying.Done()

		for i := 0; i < 4; i++ {
			w := reg.Select("test-pool")
			require.NotNil(t, w)
			assert.Equal(t, alive.ID(), w.ID())
		}
	})

	t.Run("Termination removes the registration", func(t *testing.T) {
		reg := newTestRegistry()
		adapter := newAdapter()

		w := startTestWorker(t, reg, adapter, true, guard.NewMemory())
		require.Len(t, reg.Workers("test-pool"), 1)

		w.Shutdown()
		<-w.Done()

		require.Eventually(t, func() bool {
			return len(reg.Workers("test-pool")) == 0
		}, time.Second, 5*time.Millisecond)
	})
}

func TestRegistryWorkerInfos(t *testing.T) {
	reg := newTestRegistry()
	adapter := newFakeAdapter(func() *fakeConn {
		return &fakeConn{peer: "push.example.com:443", hasPeer: true}
	})

	startTestWorker(t, reg, adapter, true, guard.NewMemory())
	startTestWorker(t, reg, adapter, true, guard.NewMemory())

	infos := reg.WorkerInfos(context.Background(), "test-pool")

	require.Len(t, infos, 2)
	for _, info := range infos {
		assert.Equal(t, "push.example.com:443", info.PeerAddress)
		assert.Equal(t, int64(100), info.AvgLatencyMs)
	}
}
