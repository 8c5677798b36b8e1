package telemetry

import (
	"errors"
	"log"
	"sync"
)

// Handler receives decoded reports.
// Embed NoOpHandler and override only the methods you need.
type Handler interface {
	HandlePrint(s *Snapshot)
}

// NoOpHandler implements Handler with no-op methods.
type NoOpHandler struct{}

func (NoOpHandler) HandlePrint(*Snapshot) {}

var _ Handler = NoOpHandler{}

// Ingestor decodes raw reports and dispatches them to a Handler.
// Nothing it receives can stop the subscription feeding it.
//
// The device sends full reports only on request and deltas otherwise, so
// each print report is merged onto the last one before dispatch.
type Ingestor struct {
	handler Handler
	debug   bool

	mu   sync.Mutex
	last *Snapshot
}

// NewIngestor creates an ingestor for the given handler.
func NewIngestor(handler Handler, debug bool) *Ingestor {
	return &Ingestor{handler: handler, debug: debug}
}

// HandleRaw is the entry point for raw message bytes from the messaging layer.
func (ing *Ingestor) HandleRaw(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("telemetry: handler panic: %v", r)
		}
	}()

	ing.mu.Lock()
	defer ing.mu.Unlock()

	msg, err := DecodeOnto(data, ing.last)
	if err != nil {
		if errors.Is(err, ErrIgnoredKind) {
			if ing.debug {
				log.Printf("telemetry: %v", err)
			}
			return
		}
		log.Printf("telemetry: dropping report: %v", err)
		return
	}

	switch msg.Kind {
	case KindPrint:
		ing.last = msg.Print
		ing.handler.HandlePrint(msg.Print)
	}
}
