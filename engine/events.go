package engine

import (
	"time"

	"bambuoverlay/telemetry"
)

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Telemetry events
	EventSnapshot EventType = iota + 1

	// Job events
	EventJobChanged
	EventAssetsFetched
	EventJobCompleted

	// Stream events
	EventStreamStopped

	// Connection events
	EventSinkConnected
	EventSinkDisconnected
	EventBrokerConnected
	EventBrokerDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventSnapshot:
		return "snapshot"
	case EventJobChanged:
		return "job-changed"
	case EventAssetsFetched:
		return "assets-fetched"
	case EventJobCompleted:
		return "job-completed"
	case EventStreamStopped:
		return "stream-stopped"
	case EventSinkConnected:
		return "sink-connected"
	case EventSinkDisconnected:
		return "sink-disconnected"
	case EventBrokerConnected:
		return "broker-connected"
	case EventBrokerDisconnected:
		return "broker-disconnected"
	}
	return "unknown"
}

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// SnapshotEvent is emitted after every handled snapshot.
type SnapshotEvent struct {
	Job      string              `json:"job"`
	Percent  int                 `json:"percent"`
	Fields   map[string]string   `json:"fields"`
	Snapshot *telemetry.Snapshot `json:"snapshot"`
}

// JobChangedEvent is emitted when a new job name is first seen.
type JobChangedEvent struct {
	Job       string `json:"job"`
	Previous  string `json:"previous"`
	AssetPath string `json:"asset_path"`
}

// AssetsFetchedEvent is emitted when a job asset fetch finishes, whether or
// not its parts succeeded.
type AssetsFetchedEvent struct {
	Job           string   `json:"job"`
	AssetPath     string   `json:"asset_path"`
	ThumbnailPath string   `json:"thumbnail_path,omitempty"`
	WeightGrams   *float64 `json:"weight_grams,omitempty"`
	ThumbnailErr  string   `json:"thumbnail_error,omitempty"`
	WeightErr     string   `json:"weight_error,omitempty"`
}

// JobCompletedEvent is emitted once per job when completion reaches 100%.
type JobCompletedEvent struct {
	Job string `json:"job"`
}

// StreamStoppedEvent is emitted when a stop-stream command was issued.
type StreamStoppedEvent struct {
	Job    string `json:"job"`
	Manual bool   `json:"manual"`
}

// ConnectionEvent is emitted for sink and broker connection changes.
type ConnectionEvent struct {
	Target string `json:"target"`
	Error  string `json:"error,omitempty"`
}
