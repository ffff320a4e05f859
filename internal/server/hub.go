// Package server coordinates session registration, per-handle fan-out, and
// connection cleanup for the friendchat WebSocket system via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/friendchat/internal/chat"
	"github.com/Tyrowin/friendchat/internal/metrics"
)

// Subscriber is a live session that can receive outbound frames.
// Deliver must not block; it reports false when the frame could not be
// queued. Close must be idempotent.
type Subscriber interface {
	Deliver(frame []byte) bool
	Close()
}

// Hub is the group router: it maps each handle to the set of live sessions
// authenticated as that handle and fans published frames out to them.
// Every device or tab of a user joins the same group.
type Hub struct {
	groups     map[string]map[Subscriber]struct{}
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *zap.Logger
}

var _ chat.Publisher = (*Hub)(nil)

// NewHub creates and initializes a new Hub instance. The returned Hub is
// ready to route frames; Run must be started before sessions register.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		groups:     make(map[string]map[Subscriber]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log.Named("hub"),
	}
}

// Join adds s to the group for handle. Joining twice is a no-op.
func (h *Hub) Join(handle string, s Subscriber) {
	h.mutex.Lock()
	group, ok := h.groups[handle]
	if !ok {
		group = make(map[Subscriber]struct{})
		h.groups[handle] = group
		metrics.ActiveHandles.Inc()
	}
	_, already := group[s]
	group[s] = struct{}{}
	size := len(group)
	h.mutex.Unlock()

	if !already {
		metrics.ActiveSessions.Inc()
		h.log.Debug("Session joined", zap.String("handle", handle), zap.Int("group_size", size))
	}
}

// Leave removes s from the group for handle. Leaving a group s is not in is
// a no-op. Empty groups are dropped.
func (h *Hub) Leave(handle string, s Subscriber) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.leaveLocked(handle, s)
}

func (h *Hub) leaveLocked(handle string, s Subscriber) bool {
	group, ok := h.groups[handle]
	if !ok {
		return false
	}
	if _, ok := group[s]; !ok {
		return false
	}
	delete(group, s)
	metrics.ActiveSessions.Dec()
	if len(group) == 0 {
		delete(h.groups, handle)
		metrics.ActiveHandles.Dec()
	}
	h.log.Debug("Session left", zap.String("handle", handle), zap.Int("group_size", len(group)))
	return true
}

// Sessions returns how many live sessions are registered under handle.
func (h *Hub) Sessions(handle string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.groups[handle])
}

// Publish encodes {source: tag, data: data} once and queues it on every
// session registered under handle at the time of the call. Nothing is
// queued for handles without live sessions. Sessions whose buffers are full
// are evicted and closed.
func (h *Hub) Publish(handle string, tag chat.Tag, data any) {
	frame, err := chat.EncodeEnvelope(tag, data)
	if err != nil {
		h.log.Error("Failed to encode envelope", zap.String("source", tag.String()), zap.Error(err))
		return
	}
	metrics.Publishes.WithLabelValues(tag.String()).Inc()

	subscribers := h.snapshot(handle)
	if len(subscribers) == 0 {
		h.log.Debug("No live sessions for publish", zap.String("handle", handle), zap.String("source", tag.String()))
		return
	}

	var failed []Subscriber
	delivered := 0
	for _, s := range subscribers {
		if s.Deliver(frame) {
			delivered++
			continue
		}
		failed = append(failed, s)
	}
	metrics.Deliveries.Add(float64(delivered))
	h.evict(handle, failed)
}

// snapshot returns the sessions of a group so fan-out runs without the lock.
func (h *Hub) snapshot(handle string) []Subscriber {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	group := h.groups[handle]
	subscribers := make([]Subscriber, 0, len(group))
	for s := range group {
		subscribers = append(subscribers, s)
	}
	return subscribers
}

// evict removes sessions that could not take a frame and closes them.
func (h *Hub) evict(handle string, failed []Subscriber) {
	if len(failed) == 0 {
		return
	}

	h.mutex.Lock()
	var removed []Subscriber
	for _, s := range failed {
		if h.leaveLocked(handle, s) {
			removed = append(removed, s)
		}
	}
	h.mutex.Unlock()

	for _, s := range removed {
		metrics.SlowConsumers.Inc()
		h.log.Warn("Session evicted due to full send buffer", zap.String("handle", handle))
		s.Close()
	}
}

// Register hands a session to the Run loop, which joins it to its group and
// starts its pumps. It returns false if the hub is shutting down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a session after its connection ends.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
		h.Leave(c.handle(), c)
		c.Close()
	}
}

// Run starts the hub's main event loop, handling session registration and
// unregistration. This method should be called in a separate goroutine as it
// runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownSessions()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("Received nil client registration; skipping")
				continue
			}

			h.Join(client.handle(), client)
			h.log.Info("Session opened",
				zap.String("session_id", client.id),
				zap.String("handle", client.handle()),
				zap.String("remote_addr", client.addr),
				zap.Int("handle_sessions", h.Sessions(client.handle())))

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			if h.Leave(client.handle(), client) {
				h.log.Info("Session closed",
					zap.String("session_id", client.id),
					zap.String("handle", client.handle()),
					zap.Int("handle_sessions", h.Sessions(client.handle())))
			}
			client.Close()
		}
	}
}

// shutdownSessions closes every registered session.
func (h *Hub) shutdownSessions() {
	h.log.Info("Shutting down all sessions...")

	h.mutex.Lock()
	var subscribers []Subscriber
	for handle, group := range h.groups {
		for s := range group {
			subscribers = append(subscribers, s)
			metrics.ActiveSessions.Dec()
		}
		delete(h.groups, handle)
		metrics.ActiveHandles.Dec()
	}
	h.mutex.Unlock()

	for _, s := range subscribers {
		s.Close()
	}

	h.log.Info("Closed sessions", zap.Int("count", len(subscribers)))
}

// Shutdown initiates graceful shutdown of the hub and waits for all session
// goroutines to complete, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
