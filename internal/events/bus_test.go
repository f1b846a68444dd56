package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New(nil)
	ch, unsubscribe := bus.Subscribe(4)

	bus.Publish(KindStatus, Status{Status: "ACTIONS"})
	bus.Notify(LevelError, "theme not found", "3:themes:delete")

	select {
	case ev := <-ch:
		assert.Equal(t, KindStatus, ev.Kind)
		assert.Equal(t, Status{Status: "ACTIONS"}, ev.Data)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	ev := <-ch
	require.Equal(t, KindNotice, ev.Kind)
	assert.Equal(t, "3:themes:delete", ev.Data.(Notice).Task)

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(KindOnline, Online{Online: true})
}

func TestBus_LastAndSnapshot(t *testing.T) {
	bus := New(nil)
	_, ok := bus.Last(KindStatus)
	assert.False(t, ok)

	bus.Publish(KindStatus, Status{Status: "CACHE"})
	bus.Publish(KindStatus, Status{Status: "SYNCHED"})
	bus.Publish(KindOnline, Online{Online: false})

	ev, ok := bus.Last(KindStatus)
	require.True(t, ok)
	assert.Equal(t, "SYNCHED", ev.Data.(Status).Status)

	snap := bus.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, KindStatus, snap[0].Kind)
	assert.Equal(t, KindOnline, snap[1].Kind)
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := New(nil)
	_, unsubscribe := bus.Subscribe(1)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(KindProgress, Progress{Fraction: float64(i) / 10})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}
