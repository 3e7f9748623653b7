package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusDeliversToTopicSubscriber(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	got := make(chan Message, 1)
	_, err := b.Subscribe(TopicAuthStatusChanged, func(msg Message) { got <- msg })
	require.NoError(t, err)

	require.NoError(t, b.Publish(TopicAuthStatusChanged, []byte(`{"isAuthenticated":true}`)))

	select {
	case msg := <-got:
		assert.Equal(t, TopicAuthStatusChanged, msg.Topic)
		assert.JSONEq(t, `{"isAuthenticated":true}`, string(msg.Data))
	case <-time.After(time.Second):
		t.Fatal("message never delivered")
	}
}

func TestMemoryBusWildcardSeesEveryTopic(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var mu sync.Mutex
	var topics []string
	done := make(chan struct{}, 2)
	_, err := b.Subscribe(TopicAll, func(msg Message) {
		mu.Lock()
		topics = append(topics, msg.Topic)
		mu.Unlock()
		done <- struct{}{}
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(TopicAuthStatusChanged, nil))
	require.NoError(t, b.Publish(TopicServerStatusChanged, nil))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("wildcard subscriber missed a message")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{TopicAuthStatusChanged, TopicServerStatusChanged}, topics)
}

func TestMemoryBusSkipsOtherTopics(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	got := make(chan Message, 1)
	_, err := b.Subscribe(TopicServerStatusChanged, func(msg Message) { got <- msg })
	require.NoError(t, err)

	require.NoError(t, b.Publish(TopicAuthStatusChanged, nil))

	select {
	case <-got:
		t.Fatal("subscriber received a message for a topic it never asked for")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusPublishWithoutSubscribers(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	assert.NoError(t, b.Publish(TopicServerStatusChanged, []byte("{}")))
}

func TestMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	got := make(chan Message, 1)
	sub, err := b.Subscribe(TopicAuthStatusChanged, func(msg Message) { got <- msg })
	require.NoError(t, err)

	sub.Unsubscribe()
	require.NoError(t, b.Publish(TopicAuthStatusChanged, nil))

	select {
	case <-got:
		t.Fatal("unsubscribed handler still invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusClosedRejectsOperations(t *testing.T) {
	b := NewMemoryBus()
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(TopicAuthStatusChanged, nil), ErrClosed)
	_, err := b.Subscribe(TopicAuthStatusChanged, func(Message) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, b.Close())
}

func TestMemoryBusFullBufferDropsInsteadOfBlocking(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	// Handler that never returns until released, so the buffer fills.
	release := make(chan struct{})
	_, err := b.Subscribe(TopicServerStatusChanged, func(Message) { <-release })
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriptionBuffer*2; i++ {
			_ = b.Publish(TopicServerStatusChanged, nil)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	close(release)
}
