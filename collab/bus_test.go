package collab

import (
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOutOrder(t *testing.T) {
	bus := NewBus(16)
	s1 := bus.Subscribe()
	s2 := bus.Subscribe()
	defer s1.Unsubscribe()
	defer s2.Unsubscribe()

	for i := 0; i < 10; i++ {
		bus.Publish(Frame{Kind: BinaryFrame, Data: []byte{byte(i)}})
	}

	for _, sub := range []*Subscription{s1, s2} {
		for i := 0; i < 10; i++ {
			select {
			case f := <-sub.C():
				assert.Equal(t, []byte{byte(i)}, f.Data)
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for frame")
			}
		}
	}
}

func TestBusLateSubscriberMissesHistory(t *testing.T) {
	bus := NewBus(16)
	bus.Publish(Frame{Data: []byte("early")})

	sub := bus.Subscribe()
	defer sub.Unsubscribe()
	bus.Publish(Frame{Data: []byte("late")})

	f := <-sub.C()
	assert.Equal(t, []byte("late"), f.Data)
	assert.Empty(t, len(sub.C()))
}

// Publishers must never block on a stalled subscriber; the subscriber's
// oldest backlog is shed instead.
func TestBusOverflowDropsOldest(t *testing.T) {
	bus := NewBus(8)
	stalled := bus.Subscribe()
	defer stalled.Unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			bus.Publish(Frame{Data: []byte(fmt.Sprintf("%d", i))})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on stalled subscriber")
	}

	// The survivors are the newest frames, still in publish order.
	var got []string
	for len(stalled.C()) > 0 {
		f := <-stalled.C()
		got = append(got, string(f.Data))
	}
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 8)
	assert.Equal(t, "9999", got[len(got)-1])
	for i := 1; i < len(got); i++ {
		prev, err := strconv.Atoi(got[i-1])
		require.NoError(t, err)
		cur, err := strconv.Atoi(got[i])
		require.NoError(t, err)
		assert.Less(t, prev, cur, "frames out of order")
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe()
	require.Equal(t, 1, bus.SubscriberCount())

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent
	assert.Equal(t, 0, bus.SubscriberCount())

	select {
	case <-sub.Done():
	default:
		t.Fatal("done channel not closed after unsubscribe")
	}
	bus.Publish(Frame{Data: []byte("x")})
	assert.Empty(t, len(sub.C()))
}
