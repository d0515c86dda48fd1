package events

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tipjar/core/types"
)

type testEvent struct{ evt *types.Event }

func (e testEvent) EventType() string { return e.evt.Type }
func (e testEvent) Event() *types.Event { return e.evt }

func emitN(h *Hub, n int) {
	for i := 0; i < n; i++ {
		h.Emit(testEvent{evt: &types.Event{Type: "test.event", Attributes: map[string]string{"i": string(rune('a' + i))}}})
	}
}

func TestHubBroadcastsToSubscribers(t *testing.T) {
	hub := NewHub(0)
	updates, cancel, backlog, err := hub.Subscribe(context.Background(), "")
	require.NoError(t, err)
	defer cancel()
	require.Empty(t, backlog)

	emitN(hub, 2)
	for _, want := range []string{"a", "b"} {
		select {
		case update := <-updates:
			require.Equal(t, "test.event", update.Type)
			require.Equal(t, want, update.Attributes["i"])
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for update")
		}
	}
}

func TestHubBacklogRespectsCursorAndLimit(t *testing.T) {
	hub := NewHub(3)
	emitN(hub, 5)

	_, cancel, backlog, err := hub.Subscribe(context.Background(), "")
	require.NoError(t, err)
	cancel()
	require.Len(t, backlog, 3)
	require.Equal(t, uint64(3), backlog[0].Sequence)

	_, cancel, backlog, err = hub.Subscribe(context.Background(), "4")
	require.NoError(t, err)
	cancel()
	require.Len(t, backlog, 1)
	require.Equal(t, "5", backlog[0].Cursor)

	_, _, _, err = hub.Subscribe(context.Background(), "not-a-number")
	require.Error(t, err)
}

func TestHubContextCancelUnsubscribes(t *testing.T) {
	hub := NewHub(0)
	ctx, cancelCtx := context.WithCancel(context.Background())
	updates, _, _, err := hub.Subscribe(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 1, hub.Subscribers())

	cancelCtx()
	select {
	case _, ok := <-updates:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
	require.Equal(t, 0, hub.Subscribers())
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(0)
	_, cancel, _, err := hub.Subscribe(context.Background(), "")
	require.NoError(t, err)
	defer cancel()

	done := make(chan struct{})
	go func() {
		emitN(hub, subscriberBuffer*2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full subscriber")
	}
}

func TestHubClose(t *testing.T) {
	hub := NewHub(0)
	updates, cancel, _, err := hub.Subscribe(context.Background(), "")
	require.NoError(t, err)
	hub.Close()
	_, ok := <-updates
	require.False(t, ok)
	cancel()

	_, _, _, err = hub.Subscribe(context.Background(), "")
	require.ErrorIs(t, err, ErrHubClosed)
	hub.Emit(testEvent{evt: &types.Event{Type: "late"}})
}

func TestMultiEmitter(t *testing.T) {
	a, b := NewHub(0), NewHub(0)
	Multi{a, nil, b, NoopEmitter{}}.Emit(testEvent{evt: &types.Event{Type: "x"}})
	_, ca, backlogA, err := a.Subscribe(context.Background(), "")
	require.NoError(t, err)
	ca()
	_, cb, backlogB, err := b.Subscribe(context.Background(), "")
	require.NoError(t, err)
	cb()
	require.Len(t, backlogA, 1)
	require.Len(t, backlogB, 1)
}

func TestHubCancelReleasesContextWatcher(t *testing.T) {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	hub := NewHub(0)
	baseline := runtime.NumGoroutine()

	for i := 0; i < 50; i++ {
		_, cancel, _, err := hub.Subscribe(ctx, "")
		require.NoError(t, err)
		cancel()
	}
	for i := 0; i < 50; i++ {
		_, _, _, err := hub.Subscribe(ctx, "")
		require.NoError(t, err)
	}
	hub.Close()

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline
	}, 2*time.Second, 10*time.Millisecond)
	require.Zero(t, hub.Subscribers())
}
