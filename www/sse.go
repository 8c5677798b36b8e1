package www

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"bambuoverlay/engine"
)

// SSEEvent is the typed envelope sent to SSE clients.
type SSEEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type sseClient struct {
	events chan SSEEvent
}

// EventHub manages SSE client connections and broadcasts.
type EventHub struct {
	mu        sync.RWMutex
	clients   map[*sseClient]struct{}
	broadcast chan SSEEvent
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewEventHub creates a new EventHub.
func NewEventHub() *EventHub {
	return &EventHub{
		clients:   make(map[*sseClient]struct{}),
		broadcast: make(chan SSEEvent, 256),
		stopChan:  make(chan struct{}),
	}
}

// Start begins the event fan-out loop.
func (h *EventHub) Start() {
	go h.run()
}

// Stop shuts down the event hub.
func (h *EventHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

// Broadcast sends an event to all connected clients. Events are dropped
// when the buffer is full.
func (h *EventHub) Broadcast(evt SSEEvent) {
	select {
	case h.broadcast <- evt:
	default:
	}
}

func (h *EventHub) register(c *sseClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *EventHub) unregister(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	close(c.events)
	h.mu.Unlock()
}

func (h *EventHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) run() {
	for {
		select {
		case <-h.stopChan:
			return
		case evt := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.events <- evt:
				default:
					// slow client
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleSSE is the HTTP handler for SSE connections.
func (h *EventHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := &sseClient{events: make(chan SSEEvent, 64)}
	h.register(client)
	defer h.unregister(client)

	writeEvent(w, flusher, "connected", []byte("{}"))

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.stopChan:
			return
		case evt, ok := <-client.events:
			if !ok {
				return
			}
			data, err := json.Marshal(evt.Data)
			if err != nil {
				log.Printf("www: encode %s event: %v", evt.Type, err)
				continue
			}
			writeEvent(w, flusher, evt.Type, data)
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, f http.Flusher, typ string, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ, data)
	f.Flush()
}

// SetupEngineListeners wires engine events to SSE broadcasts.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) {
	eng.Events.Subscribe(func(evt engine.Event) {
		if sseEvt, ok := toSSE(evt); ok {
			h.Broadcast(sseEvt)
		}
	})
	log.Printf("www: SSE listeners wired to engine events")
}

func toSSE(evt engine.Event) (SSEEvent, bool) {
	switch evt.Type {
	case engine.EventSnapshot:
		p := evt.Payload.(engine.SnapshotEvent)
		return SSEEvent{Type: "snapshot", Data: map[string]interface{}{
			"job": p.Job, "percent": p.Percent, "fields": p.Fields,
		}}, true
	case engine.EventJobChanged:
		return SSEEvent{Type: "job-changed", Data: evt.Payload}, true
	case engine.EventAssetsFetched:
		return SSEEvent{Type: "assets", Data: evt.Payload}, true
	case engine.EventJobCompleted:
		return SSEEvent{Type: "job-completed", Data: evt.Payload}, true
	case engine.EventStreamStopped:
		return SSEEvent{Type: "stream-stopped", Data: evt.Payload}, true
	case engine.EventSinkConnected, engine.EventSinkDisconnected:
		p := evt.Payload.(engine.ConnectionEvent)
		return SSEEvent{Type: "obs-status", Data: map[string]interface{}{
			"connected": evt.Type == engine.EventSinkConnected, "error": p.Error,
		}}, true
	case engine.EventBrokerConnected, engine.EventBrokerDisconnected:
		p := evt.Payload.(engine.ConnectionEvent)
		return SSEEvent{Type: "broker-status", Data: map[string]interface{}{
			"connected": evt.Type == engine.EventBrokerConnected, "error": p.Error,
		}}, true
	}
	return SSEEvent{}, false
}
