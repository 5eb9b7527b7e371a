package handlers

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"portal-voting-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	h := NewHub()
	go h.Run()
	return h
}

func newTestClient(pollID uint, buffer int) *Client {
	return &Client{pollID: pollID, send: make(chan []byte, buffer)}
}

// receiveMessage waits for one payload on the client's send channel.
func receiveMessage(t *testing.T, client *Client) StatsMessage {
	t.Helper()
	select {
	case payload, ok := <-client.send:
		require.True(t, ok, "send channel closed before a message arrived")
		var msg StatsMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return StatsMessage{}
	}
}

// sendClosed reports whether the client's send channel has been closed,
// draining any buffered payloads along the way.
func sendClosed(client *Client) bool {
	for {
		select {
		case _, ok := <-client.send:
			if !ok {
				return true
			}
		default:
			return false
		}
	}
}

func TestHub_BroadcastReachesPollSubscribers(t *testing.T) {
	h := startHub(t)

	watcher1 := newTestClient(1, 16)
	watcher2 := newTestClient(1, 16)
	other := newTestClient(2, 16)
	h.register <- watcher1
	h.register <- watcher2
	h.register <- other

	h.Broadcast(1, StatsMessage{
		Type:   "STATS_UPDATE",
		PollID: 1,
		Stats:  models.PollStats{TotalVoters: 5, VotedCount: 2, PendingCount: 3, SubPollCount: 1},
	})

	for _, client := range []*Client{watcher1, watcher2} {
		msg := receiveMessage(t, client)
		assert.Equal(t, "STATS_UPDATE", msg.Type)
		assert.Equal(t, uint(1), msg.PollID)
		assert.Equal(t, int64(2), msg.Stats.VotedCount)
	}

	select {
	case payload := <-other.send:
		t.Fatalf("poll 2 subscriber received a poll 1 update: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UnregisterClosesSendOnce(t *testing.T) {
	h := startHub(t)

	client := newTestClient(1, 16)
	h.register <- client

	h.unregister <- client
	assert.Eventually(t, func() bool { return sendClosed(client) },
		time.Second, 5*time.Millisecond)

	// A second unregister (read pump exiting after a disconnect) is a no-op.
	h.unregister <- client

	// The hub still serves remaining subscribers.
	survivor := newTestClient(1, 16)
	h.register <- survivor
	h.Broadcast(1, StatsMessage{Type: "STATS_UPDATE", PollID: 1})
	receiveMessage(t, survivor)
}

func TestHub_ConcurrentBroadcastsDropSlowClient(t *testing.T) {
	h := startHub(t)

	// A consumer that never drains its single-slot buffer.
	slow := newTestClient(1, 1)
	healthy := newTestClient(1, 64)
	h.register <- slow
	h.register <- healthy

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h.Broadcast(1, StatsMessage{Type: "STATS_UPDATE", PollID: 1})
			}
		}()
	}
	wg.Wait()

	// The slow client is disconnected exactly once, without wedging the hub.
	assert.Eventually(t, func() bool { return sendClosed(slow) },
		time.Second, 5*time.Millisecond)

	// Later broadcasts still go through to the healthy subscriber.
	assert.Eventually(t, func() bool {
		h.Broadcast(1, StatsMessage{Type: "STATS_UPDATE", PollID: 1, Stats: models.PollStats{VotedCount: 9}})
		for {
			select {
			case payload, ok := <-healthy.send:
				if !ok {
					return false
				}
				var msg StatsMessage
				if json.Unmarshal(payload, &msg) == nil && msg.Stats.VotedCount == 9 {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastDuringDisconnect(t *testing.T) {
	h := startHub(t)

	client := newTestClient(1, 1)
	h.register <- client

	// Unregister races a burst of broadcasts; whichever path drops the client
	// first, the close must happen exactly once.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			h.Broadcast(1, StatsMessage{Type: "STATS_UPDATE", PollID: 1})
		}
	}()
	h.unregister <- client
	wg.Wait()

	assert.Eventually(t, func() bool { return sendClosed(client) },
		time.Second, 5*time.Millisecond)
}
