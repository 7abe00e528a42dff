package streaming

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/errkind"
)

// Channel is the per-request ordered event stream. One writer side (the
// pipeline) publishes; one reader side (the NDJSON handler) consumes.
// Publish blocks when the bounded queue is full, applying backpressure to
// the producer rather than dropping events.
type Channel struct {
	requestID string
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	// sendMu spans sequence assignment and the enqueue, so consumers see
	// strictly increasing sequence numbers in arrival order.
	sendMu   sync.Mutex
	seq      uint64       // guarded by sendMu
	lastSent atomic.Int64 // unix nanos of the last published event

	heartbeatEvery time.Duration
	wg             sync.WaitGroup
}

// NewChannel opens a channel for one request. The heartbeat goroutine runs
// until Close.
func NewChannel(requestID string, cfg *config.StreamingConfig) *Channel {
	c := &Channel{
		requestID:      requestID,
		events:         make(chan Event, cfg.QueueCapacity),
		done:           make(chan struct{}),
		heartbeatEvery: cfg.HeartbeatInterval,
	}
	c.lastSent.Store(time.Now().UnixNano())
	c.wg.Add(1)
	go c.heartbeatLoop()
	return c
}

// RequestID returns the request this channel serves.
func (c *Channel) RequestID() string { return c.requestID }

// Publish enqueues one event, blocking while the queue is full. Publishing
// on a closed channel or after ctx is done returns an error.
func (c *Channel) Publish(ctx context.Context, payload Payload) error {
	select {
	case <-c.done:
		return errkind.New(errkind.KindInternal, "stream channel closed")
	default:
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.seq++
	event := Event{
		Type:      payload.eventType(),
		RequestID: c.requestID,
		Sequence:  c.seq,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	select {
	case c.events <- event:
		c.lastSent.Store(event.Timestamp.UnixNano())
		return nil
	case <-c.done:
		return errkind.New(errkind.KindInternal, "stream channel closed")
	case <-ctx.Done():
		return errkind.Wrap(errkind.KindOf(ctx.Err()), "stream publish abandoned", ctx.Err())
	}
}

// Subscribe returns the ordered event stream. The channel closes after
// Close once all queued events are drained.
func (c *Channel) Subscribe() <-chan Event {
	return c.events
}

// Closed reports whether Close has been called. Queued events may still be
// waiting to be drained.
func (c *Channel) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close stops the heartbeat and closes the stream. Queued events remain
// readable; Publish fails afterwards.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		close(c.events)
	})
}

// heartbeatLoop emits a heartbeat whenever the stream has been silent for a
// full interval, so consumers always see traffic within the SLA.
func (c *Channel) heartbeatLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			last := time.Unix(0, c.lastSent.Load())
			if now.Sub(last) < c.heartbeatEvery {
				continue
			}
			// A held lock means a publish is in flight, so the stream is
			// not silent; skip this tick rather than block.
			if !c.sendMu.TryLock() {
				continue
			}
			c.seq++
			event := Event{
				Type:      EventHeartbeat,
				RequestID: c.requestID,
				Sequence:  c.seq,
				Timestamp: now,
				Payload:   HeartbeatPayload{},
			}
			// Never block on a full queue: real events already satisfy
			// the liveness requirement.
			select {
			case c.events <- event:
				c.lastSent.Store(now.UnixNano())
			case <-c.done:
				c.sendMu.Unlock()
				return
			default:
			}
			c.sendMu.Unlock()
		}
	}
}

// Hub tracks the open channels by request ID.
type Hub struct {
	mu       sync.RWMutex
	cfg      *config.StreamingConfig
	channels map[string]*Channel
}

// NewHub builds an empty hub.
func NewHub(cfg *config.StreamingConfig) *Hub {
	return &Hub{cfg: cfg, channels: make(map[string]*Channel)}
}

// Open creates (or returns) the channel for a request. A lingering released
// channel under the same ID is displaced by a fresh one.
func (h *Hub) Open(requestID string) *Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.channels[requestID]; ok && !c.Closed() {
		return c
	}
	c := NewChannel(requestID, h.cfg)
	h.channels[requestID] = c
	return c
}

// Get returns the channel for a request if one is open or still lingering
// after release.
func (h *Hub) Get(requestID string) (*Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.channels[requestID]
	return c, ok
}

// Release closes the request's channel but keeps it retrievable for the
// configured linger, so a subscriber that arrives after a fast run can
// still drain the queued events.
func (h *Hub) Release(requestID string) {
	h.mu.RLock()
	c, ok := h.channels[requestID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.Close()
	time.AfterFunc(h.cfg.ReleaseLinger, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		// Only forget the channel we released; the ID may have been
		// reopened with a fresh one in the meantime.
		if cur, ok := h.channels[requestID]; ok && cur == c {
			delete(h.channels, requestID)
		}
	})
}

// Len returns the number of live channels, lingering ones excluded.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.channels {
		if !c.Closed() {
			n++
		}
	}
	return n
}
