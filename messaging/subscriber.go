package messaging

import (
	"fmt"
	"log"

	"bambuoverlay/config"
)

// RawHandler consumes raw telemetry payloads.
type RawHandler interface {
	HandleRaw(payload []byte)
}

// Subscriber feeds the printer's report topic into a RawHandler and asks for
// a full report whenever the broker session is (re)established.
type Subscriber struct {
	client  *Client
	cfg     *config.MessagingConfig
	handler RawHandler
	started bool
}

// NewSubscriber creates a new telemetry subscriber. Create it before the
// client connects so the first session also requests a full report.
func NewSubscriber(client *Client, cfg *config.MessagingConfig, handler RawHandler) *Subscriber {
	s := &Subscriber{client: client, cfg: cfg, handler: handler}
	if cfg.PushAll && cfg.RequestTopic != "" {
		client.OnConnect(s.requestFullReport)
	}
	return s
}

// Start subscribes to the report topic.
func (s *Subscriber) Start() error {
	if s.cfg.ReportTopic == "" {
		return fmt.Errorf("report topic not configured")
	}
	if err := s.client.Subscribe(s.cfg.ReportTopic, s.handler.HandleRaw); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.ReportTopic, err)
	}
	s.started = true
	log.Printf("messaging: subscribed to %s", s.cfg.ReportTopic)
	return nil
}

// Stop unsubscribes from the report topic. No handler call is in progress
// once it returns.
func (s *Subscriber) Stop() {
	if !s.started {
		return
	}
	s.started = false
	if err := s.client.Unsubscribe(s.cfg.ReportTopic); err != nil {
		log.Printf("messaging: unsubscribe %s: %v", s.cfg.ReportTopic, err)
	}
}

func (s *Subscriber) requestFullReport() {
	data, err := NewPushAll().Encode()
	if err != nil {
		log.Printf("messaging: encode pushall: %v", err)
		return
	}
	if err := s.client.Publish(s.cfg.RequestTopic, data); err != nil {
		log.Printf("messaging: pushall request: %v", err)
		return
	}
	log.Printf("messaging: requested full report on %s", s.cfg.RequestTopic)
}
