package engine

import (
	"context"
	"fmt"
)

// StreamSink is the live-stream control surface of the compositor.
type StreamSink interface {
	StreamActive(ctx context.Context) (bool, error)
	StopStream(ctx context.Context) error
}

// StreamController stops the live stream when a job completes. It keeps no
// state between calls; the stream status is queried fresh every time.
type StreamController struct {
	sink StreamSink
}

// NewStreamController creates a controller for the given sink.
func NewStreamController(sink StreamSink) *StreamController {
	return &StreamController{sink: sink}
}

// Observe issues a stop command when percent is 100 and a stream is active.
// It reports whether a stop was issued.
func (c *StreamController) Observe(ctx context.Context, percent int) (bool, error) {
	if percent != 100 {
		return false, nil
	}
	active, err := c.sink.StreamActive(ctx)
	if err != nil {
		return false, fmt.Errorf("stream status: %w", err)
	}
	if !active {
		return false, nil
	}
	if err := c.sink.StopStream(ctx); err != nil {
		return false, fmt.Errorf("stop stream: %w", err)
	}
	return true, nil
}

// Stop issues a stop command regardless of completion.
func (c *StreamController) Stop(ctx context.Context) error {
	if err := c.sink.StopStream(ctx); err != nil {
		return fmt.Errorf("stop stream: %w", err)
	}
	return nil
}
