package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	hub := NewHub(4)
	_, a := hub.Subscribe()
	_, b := hub.Subscribe()

	hub.Publish([]byte("frame"))

	assert.Equal(t, []byte("frame"), <-a)
	assert.Equal(t, []byte("frame"), <-b)
}

func TestUnsubscribeClosesChannelAndStopsDelivery(t *testing.T) {
	hub := NewHub(4)
	id, ch := hub.Subscribe()
	hub.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")

	assert.Equal(t, 0, hub.SubscriberCount())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(4)
	id, _ := hub.Subscribe()
	hub.Unsubscribe(id)
	hub.Unsubscribe(id)
}

func TestSlowSubscriberIsDisconnectedRatherThanBlockingPublish(t *testing.T) {
	hub := NewHub(1)
	id, ch := hub.Subscribe()

	hub.Publish([]byte("first"))
	hub.Publish([]byte("second"))

	require.Equal(t, 0, hub.SubscriberCount(), "full subscriber should be dropped")

	got := <-ch
	assert.Equal(t, []byte("first"), got)

	_, ok := <-ch
	assert.False(t, ok, "dropped subscriber's channel must be closed")
}

func TestSubscriberCountTracksLiveSubscribers(t *testing.T) {
	hub := NewHub(4)
	assert.Equal(t, 0, hub.SubscriberCount())

	id1, _ := hub.Subscribe()
	_, _ = hub.Subscribe()
	assert.Equal(t, 2, hub.SubscriberCount())

	hub.Unsubscribe(id1)
	assert.Equal(t, 1, hub.SubscriberCount())
}
