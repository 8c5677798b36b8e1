package messaging

import "encoding/json"

// PushAllRequest asks the printer to publish a full report instead of the
// incremental ones it sends by default.
type PushAllRequest struct {
	Pushing PushingCommand `json:"pushing"`
}

// PushingCommand is the body of a pushing request.
type PushingCommand struct {
	SequenceID string `json:"sequence_id"`
	Command    string `json:"command"`
}

// NewPushAll builds a pushall request.
func NewPushAll() PushAllRequest {
	return PushAllRequest{Pushing: PushingCommand{SequenceID: "0", Command: "pushall"}}
}

// Encode serializes the request for publishing.
func (r PushAllRequest) Encode() ([]byte, error) {
	return json.Marshal(r)
}
