package statecache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"bambuoverlay/engine"
)

// writeTimeout bounds each Redis round trip.
const writeTimeout = 500 * time.Millisecond

// queueSize is the number of writes buffered while Redis is slow.
const queueSize = 64

// stateWriter is the part of RedisStore the mirror writes through.
type stateWriter interface {
	SetSnapshot(ctx context.Context, s *Snapshot) error
	PushJobEvent(ctx context.Context, event string) error
}

type write struct {
	what string
	fn   func(ctx context.Context) error
}

// Mirror copies engine state into Redis as it changes. Writes are queued
// and applied by one goroutine in event order; when the queue is full the
// write is dropped.
type Mirror struct {
	store   stateWriter
	queue   chan write
	failing atomic.Bool
	dropped atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

func NewMirror(redis *RedisStore) *Mirror {
	return newMirror(redis)
}

func newMirror(w stateWriter) *Mirror {
	return &Mirror{
		store:    w,
		queue:    make(chan write, queueSize),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Attach subscribes the mirror to engine events and starts the writer.
func (m *Mirror) Attach(bus *engine.EventBus) {
	m.startOnce.Do(func() { go m.run() })

	bus.SubscribeTypes(func(evt engine.Event) {
		s := evt.Payload.(engine.SnapshotEvent)
		m.enqueue("snapshot", func(ctx context.Context) error {
			return m.store.SetSnapshot(ctx, &Snapshot{Job: s.Job, Percent: s.Percent, Fields: s.Fields})
		})
	}, engine.EventSnapshot)

	bus.SubscribeTypes(func(evt engine.Event) {
		note := jobNote(evt)
		m.enqueue("job event", func(ctx context.Context) error {
			return m.store.PushJobEvent(ctx, note)
		})
	}, engine.EventJobChanged, engine.EventJobCompleted, engine.EventStreamStopped)
}

func (m *Mirror) enqueue(what string, fn func(ctx context.Context) error) {
	select {
	case <-m.stopChan:
		return
	default:
	}
	select {
	case m.queue <- write{what: what, fn: fn}:
	default:
		if m.dropped.Add(1) == 1 {
			log.Printf("statecache: write queue full, dropping %s", what)
		}
	}
}

func (m *Mirror) run() {
	defer close(m.done)
	for {
		select {
		case w := <-m.queue:
			m.apply(w)
		case <-m.stopChan:
			// Flush what is queued unless Redis is down.
			for !m.failing.Load() {
				select {
				case w := <-m.queue:
					m.apply(w)
				default:
					return
				}
			}
			return
		}
	}
}

func (m *Mirror) apply(w write) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := w.fn(ctx); err != nil {
		// Log once per outage.
		if !m.failing.Swap(true) {
			log.Printf("statecache: %s: %v", w.what, err)
		}
		return
	}
	if m.failing.Swap(false) {
		log.Printf("statecache: redis reachable again")
	}
	if n := m.dropped.Swap(0); n > 0 {
		log.Printf("statecache: %d writes dropped", n)
	}
}

// Close stops the writer after flushing queued writes.
func (m *Mirror) Close() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	started := true
	m.startOnce.Do(func() { started = false })
	if started {
		<-m.done
	}
}

func jobNote(evt engine.Event) string {
	ts := evt.Timestamp.Format(time.RFC3339)
	switch p := evt.Payload.(type) {
	case engine.JobChangedEvent:
		return fmt.Sprintf("%s started %s", ts, p.Job)
	case engine.JobCompletedEvent:
		return fmt.Sprintf("%s completed %s", ts, p.Job)
	case engine.StreamStoppedEvent:
		if p.Manual {
			return fmt.Sprintf("%s stream stopped manually during %s", ts, p.Job)
		}
		return fmt.Sprintf("%s stream stopped after %s", ts, p.Job)
	}
	return fmt.Sprintf("%s %s", ts, evt.Type)
}
