package overlay

import (
	"context"
	"fmt"
	"log"
)

// Sink is the compositor surface overlay updates are pushed to.
type Sink interface {
	IsConnected() bool
	SetInputSettings(ctx context.Context, input string, settings map[string]any) error
}

// Syncer applies updates to a Sink, translating each field into the input
// property it controls. Every update is pushed; the sink tolerates repeats.
type Syncer struct {
	sink  Sink
	names map[FieldID]string
	debug bool
}

// NewSyncer creates a syncer. names overrides the input name per field; fields
// not listed use their own identifier.
func NewSyncer(sink Sink, names map[string]string, debug bool) *Syncer {
	m := make(map[FieldID]string, len(names))
	for k, v := range names {
		m[FieldID(k)] = v
	}
	return &Syncer{sink: sink, names: m, debug: debug}
}

// InputName returns the compositor input bound to a field.
func (s *Syncer) InputName(f FieldID) string {
	if n, ok := s.names[f]; ok && n != "" {
		return n
	}
	return string(f)
}

// Apply pushes a batch and returns how many updates succeeded. The batch is
// skipped entirely while the sink is disconnected; a failed update is logged
// and the rest of the batch still runs.
func (s *Syncer) Apply(ctx context.Context, updates []Update) int {
	if len(updates) == 0 {
		return 0
	}
	if !s.sink.IsConnected() {
		if s.debug {
			log.Printf("overlay: sink disconnected, skipping %d updates", len(updates))
		}
		return 0
	}

	applied := 0
	for _, u := range updates {
		settings, err := Settings(u)
		if err != nil {
			log.Printf("overlay: %s: %v", u.Field, err)
			continue
		}
		if err := s.sink.SetInputSettings(ctx, s.InputName(u.Field), settings); err != nil {
			log.Printf("overlay: set %s %s: %v", u.Field, u.Kind, err)
			continue
		}
		applied++
	}
	return applied
}

// Settings builds the input property bag for one update.
func Settings(u Update) (map[string]any, error) {
	switch u.Kind {
	case KindText:
		return map[string]any{"text": u.Value}, nil
	case KindImage:
		return map[string]any{"file": u.Value}, nil
	case KindColor:
		c, ok := ABGR(u.Value)
		if !ok {
			return nil, fmt.Errorf("invalid color %q", u.Value)
		}
		return map[string]any{"color": c}, nil
	}
	return nil, fmt.Errorf("unsupported update kind %d", u.Kind)
}
