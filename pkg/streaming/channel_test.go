package streaming

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-engine/veritas/pkg/config"
)

func testStreamingConfig() *config.StreamingConfig {
	return &config.StreamingConfig{
		QueueCapacity:     8,
		HeartbeatInterval: time.Hour, // keep heartbeats out of ordering tests
		ReleaseLinger:     time.Minute,
	}
}

func TestPublishOrderAndSequence(t *testing.T) {
	c := NewChannel("req-1", testStreamingConfig())
	defer c.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Publish(context.Background(), StatusPayload{PlanID: "p1", Status: "running", Progress: float64(i)}))
	}

	for i := 0; i < 5; i++ {
		ev := <-c.Subscribe()
		assert.Equal(t, uint64(i+1), ev.Sequence, "sequence is gapless")
		assert.Equal(t, float64(i), ev.Payload.(StatusPayload).Progress, "delivery order matches publish order")
	}
}

func TestPublishBlocksWhenFull(t *testing.T) {
	cfg := &config.StreamingConfig{QueueCapacity: 1, HeartbeatInterval: time.Hour}
	c := NewChannel("req-1", cfg)
	defer c.Close()

	require.NoError(t, c.Publish(context.Background(), TextChunkPayload{Content: "a"}))

	published := make(chan struct{})
	go func() {
		_ = c.Publish(context.Background(), TextChunkPayload{Content: "b"})
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("publish must block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	<-c.Subscribe() // drain one slot
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish did not unblock after a slot freed")
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	c := NewChannel("req-1", testStreamingConfig())
	c.Close()
	err := c.Publish(context.Background(), TextChunkPayload{Content: "late"})
	require.Error(t, err)
}

func TestPublishHonorsContext(t *testing.T) {
	cfg := &config.StreamingConfig{QueueCapacity: 1, HeartbeatInterval: time.Hour}
	c := NewChannel("req-1", cfg)
	defer c.Close()
	require.NoError(t, c.Publish(context.Background(), TextChunkPayload{Content: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Publish(ctx, TextChunkPayload{Content: "b"})
	require.Error(t, err)
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	c := NewChannel("req-1", testStreamingConfig())
	require.NoError(t, c.Publish(context.Background(), TextChunkPayload{Content: "a"}))
	require.NoError(t, c.Publish(context.Background(), TextChunkPayload{Content: "b"}))
	c.Close()

	var got []string
	for ev := range c.Subscribe() {
		got = append(got, ev.Payload.(TextChunkPayload).Content)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestSequenceMonotonicUnderConcurrentHeartbeats(t *testing.T) {
	cfg := &config.StreamingConfig{
		QueueCapacity:     4,
		HeartbeatInterval: time.Microsecond,
		ReleaseLinger:     time.Minute,
	}
	c := NewChannel("req-1", cfg)

	collected := make(chan []Event, 1)
	go func() {
		var events []Event
		for ev := range c.Subscribe() {
			events = append(events, ev)
		}
		collected <- events
	}()

	for i := 0; i < 200; i++ {
		require.NoError(t, c.Publish(context.Background(), TextChunkPayload{Content: "x"}))
	}
	c.Close()

	var last uint64
	for _, ev := range <-collected {
		assert.Greater(t, ev.Sequence, last, "arrival order follows sequence order")
		last = ev.Sequence
	}
}

func TestHeartbeatOnIdleStream(t *testing.T) {
	cfg := &config.StreamingConfig{QueueCapacity: 8, HeartbeatInterval: 20 * time.Millisecond}
	c := NewChannel("req-1", cfg)
	defer c.Close()

	select {
	case ev := <-c.Subscribe():
		assert.Equal(t, EventHeartbeat, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no heartbeat on an idle stream")
	}
}

func TestEventMarshalFlattensPayload(t *testing.T) {
	ev := Event{
		Type:      EventTextChunk,
		RequestID: "req-1",
		Sequence:  3,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Payload:   TextChunkPayload{StepID: "s2", Content: "Die Baugenehmigung"},
	}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.Equal(t, "text_chunk", flat["type"])
	assert.Equal(t, "req-1", flat["request_id"])
	assert.Equal(t, float64(3), flat["seq"])
	assert.Equal(t, "s2", flat["step_id"])
	assert.Equal(t, "Die Baugenehmigung", flat["content"])
}

func TestHubLifecycle(t *testing.T) {
	h := NewHub(testStreamingConfig())

	c := h.Open("req-1")
	same := h.Open("req-1")
	assert.Same(t, c, same, "open is idempotent per request")
	assert.Equal(t, 1, h.Len())

	got, ok := h.Get("req-1")
	require.True(t, ok)
	assert.Same(t, c, got)

	h.Release("req-1")
	assert.Equal(t, 0, h.Len(), "lingering channels do not count as live")

	err := c.Publish(context.Background(), TextChunkPayload{Content: "late"})
	assert.Error(t, err, "release closes the channel")
}

func TestHubLateSubscriberDrainsReleasedChannel(t *testing.T) {
	h := NewHub(testStreamingConfig())

	c := h.Open("req-1")
	require.NoError(t, c.Publish(context.Background(), TextChunkPayload{Content: "Abstandsfläche: "}))
	require.NoError(t, c.Publish(context.Background(), TextChunkPayload{Content: "0,4 H"}))
	h.Release("req-1")

	// A subscriber arriving after the run finished still gets the events.
	late, ok := h.Get("req-1")
	require.True(t, ok)

	var got []string
	for ev := range late.Subscribe() {
		got = append(got, ev.Payload.(TextChunkPayload).Content)
	}
	assert.Equal(t, []string{"Abstandsfläche: ", "0,4 H"}, got)

	// Reopening the ID displaces the lingering channel with a live one.
	fresh := h.Open("req-1")
	assert.NotSame(t, c, fresh)
	require.NoError(t, fresh.Publish(context.Background(), TextChunkPayload{Content: "neu"}))
	assert.Equal(t, 1, h.Len())
}
