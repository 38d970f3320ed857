// Package sse implements a Server-Sent Events broker for real-time updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/generalrules/internal/generalrule"
)

// Event types sent to clients.
const (
	TypeState = "state.updated"
	TypeAlert = "alert.updated"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// AlertData is the payload of TypeAlert events. An empty message means the
// alert was dismissed.
type AlertData struct {
	Message string `json:"message"`
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients, last payloads, state throttle). Public methods communicate with this
// loop through channels, so no mutexes are required.
//
// State events carrying match progress are throttled to one per interval. A
// state that changes kind or reaches full progress is sent at once, and the
// newest throttled state is flushed when the interval ends, so clients always
// converge on the latest state. New clients first receive the latest state and
// alert.
type Broker struct {
	stateMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	stateCh       chan generalrule.UiState
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker with the given state throttle interval.
func NewBroker(stateThrottle time.Duration) *Broker {
	if stateThrottle <= 0 {
		stateThrottle = 250 * time.Millisecond
	}

	b := &Broker{
		stateMin:      stateThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		stateCh:       make(chan generalrule.UiState, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func encode(event Event) ([]byte, bool) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, false
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", event.Type, payload), true
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	last := make(map[string][]byte)

	var (
		lastState  generalrule.UiState
		haveState  bool
		lastSent   time.Time
		pending    *generalrule.UiState
		flushTimer *time.Timer
		flushC     <-chan time.Time
	)

	send := func(ch chan []byte, raw []byte) {
		select {
		case ch <- raw:
		default:
			// Client buffer full; skip to avoid blocking broker loop.
		}
	}

	broadcast := func(event Event) {
		raw, ok := encode(event)
		if !ok {
			return
		}
		if event.Type == TypeState || event.Type == TypeAlert {
			last[event.Type] = raw
		}
		for ch := range clients {
			send(ch, raw)
		}
	}

	sendState := func(s generalrule.UiState) {
		lastState, haveState = s, true
		lastSent = time.Now()
		pending = nil
		if flushTimer != nil {
			flushTimer.Stop()
			flushTimer, flushC = nil, nil
		}
		broadcast(Event{Type: TypeState, Data: s})
	}

	urgent := func(s generalrule.UiState) bool {
		if !haveState || s.Status != lastState.Status || !s.IsSuccess() {
			return true
		}
		return s.Snapshot.MatchProgress >= 1
	}

	for {
		select {
		case <-b.stopCh:
			if flushTimer != nil {
				flushTimer.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}
			for _, typ := range []string{TypeState, TypeAlert} {
				if raw, ok := last[typ]; ok {
					send(ch, raw)
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case s := <-b.stateCh:
			if urgent(s) || time.Since(lastSent) >= b.stateMin {
				sendState(s)
				continue
			}
			pending = &s
			if flushTimer == nil {
				flushTimer = time.NewTimer(b.stateMin - time.Since(lastSent))
				flushC = flushTimer.C
			}

		case <-flushC:
			flushTimer, flushC = nil, nil
			if pending != nil {
				sendState(*pending)
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishState broadcasts a UI state, subject to progress throttling.
func (b *Broker) PublishState(s generalrule.UiState) {
	if b.closed.Load() {
		return
	}
	select {
	case b.stateCh <- s:
	case <-b.stopped:
	}
}

// PublishAlert broadcasts the current alert.
func (b *Broker) PublishAlert(msg string) {
	b.Publish(Event{Type: TypeAlert, Data: AlertData{Message: msg}})
}

// Listener adapts the broker to generalrule.Model notifications. The returned
// function never blocks for long: events are queued to the broker loop.
func (b *Broker) Listener() generalrule.Listener {
	return func(ev generalrule.Event) {
		switch ev.Type {
		case generalrule.EventState:
			b.PublishState(ev.State)
		case generalrule.EventAlert:
			b.PublishAlert(ev.Alert)
		}
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
