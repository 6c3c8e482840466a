// Package telemetry broadcasts the current RPM to live SSE subscribers.
// Grounded directly on src/sse_server.rs: non-blocking writes, a heartbeat
// to detect dead connections, and drop-on-error. Reimplemented over
// net/http's ResponseWriter/Flusher rather than hand-rolled HTTP framing,
// since this is an HTTP-facing surface and the teacher corpus otherwise
// reaches for net/http everywhere else it speaks HTTP.
package telemetry

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HeartbeatInterval matches the original's 15s dead-connection probe.
const HeartbeatInterval = 15 * time.Second

// MaxSubscribers bounds the number of concurrently connected SSE clients.
// REDESIGN vs the original, which had no cap: spec.md adds this invariant,
// which supersedes the original's unbounded client list.
const MaxSubscribers = 3

// errTooManySubscribers is returned by subscribe when MaxSubscribers are
// already connected.
var errTooManySubscribers = fmt.Errorf("telemetry: too many subscribers (max %d)", MaxSubscribers)

type subscriber struct {
	id     int
	events chan []byte
	done   chan struct{}
}

// Broadcaster fans the current RPM out to subscribed HTTP/SSE clients.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]*subscriber
	nextID      int
	currentRPM  *uint32

	log *logrus.Entry
}

// New returns an empty Broadcaster.
func New(log *logrus.Entry) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[int]*subscriber),
		log:         log,
	}
}

// Publish broadcasts an RPM update to every subscriber, as
// `data: {"rpm":<N>}\n\n`. Writes are non-blocking: a subscriber whose
// buffer is full is dropped, matching the original's drop-on-error policy.
func (b *Broadcaster) Publish(rpm uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.currentRPM = &rpm
	msg := []byte(fmt.Sprintf("data: {\"rpm\":%d}\n\n", rpm))
	b.sendToAllLocked(msg)
}

// heartbeat sends a comment line to every subscriber so dead TCP connections
// get pruned (ResponseWriter.Write errors surface on a half-closed socket).
func (b *Broadcaster) heartbeat() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendToAllLocked([]byte(": heartbeat\n\n"))
}

func (b *Broadcaster) sendToAllLocked(msg []byte) {
	for id, sub := range b.subscribers {
		select {
		case sub.events <- msg:
		default:
			b.log.WithField("subscriber_id", id).Warn("telemetry: dropping slow subscriber")
			delete(b.subscribers, id)
			close(sub.done)
		}
	}
}

// Run starts the periodic heartbeat; it blocks until done is closed.
func (b *Broadcaster) Run(done <-chan struct{}) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			b.heartbeat()
		}
	}
}

// ServeHTTP implements the SSE endpoint: it streams "data: ..." frames to
// the client until the connection closes or the subscriber is dropped as
// slow. A request arriving while MaxSubscribers are connected is refused
// with 503.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := b.subscribe()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer b.unsubscribe(sub.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	if initial, ok := b.snapshotFrame(); ok {
		w.Write(initial)
	} else {
		w.Write([]byte("data: {\"rpm\":null}\n\n"))
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case msg := <-sub.events:
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (b *Broadcaster) snapshotFrame() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.currentRPM == nil {
		return nil, false
	}
	return []byte(fmt.Sprintf("data: {\"rpm\":%d}\n\n", *b.currentRPM)), true
}

func (b *Broadcaster) subscribe() (*subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscribers) >= MaxSubscribers {
		return nil, errTooManySubscribers
	}

	b.nextID++
	sub := &subscriber{
		id:     b.nextID,
		events: make(chan []byte, 8),
		done:   make(chan struct{}),
	}
	b.subscribers[sub.id] = sub
	return sub, nil
}

func (b *Broadcaster) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		select {
		case <-sub.done:
		default:
			close(sub.done)
		}
	}
}

// SubscriberCount reports the current live subscriber count, for metrics.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
