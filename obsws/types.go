package obsws

import (
	"encoding/json"
	"errors"
	"fmt"
)

// obs-websocket v5 opcodes.
const (
	OpHello           = 0
	OpIdentify        = 1
	OpIdentified      = 2
	OpEvent           = 5
	OpRequest         = 6
	OpRequestResponse = 7
)

// RPCVersion is the protocol version negotiated in Identify.
const RPCVersion = 1

// Request status codes returned by OBS.
const (
	CodeSuccess               = 100
	CodeResourceNotFound      = 600
	CodeResourceAlreadyExists = 601
)

// message is the outer envelope of every frame.
type message struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type hello struct {
	OBSWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication,omitempty"`
}

type identify struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type identified struct {
	NegotiatedRPCVersion int `json:"negotiatedRpcVersion"`
}

type request struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

type requestResponse struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment,omitempty"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData,omitempty"`
}

// RequestError is a request OBS answered with a failure status.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	if e.Comment != "" {
		return fmt.Sprintf("obsws: %s failed (code %d): %s", e.RequestType, e.Code, e.Comment)
	}
	return fmt.Sprintf("obsws: %s failed (code %d)", e.RequestType, e.Code)
}

// IsCode reports whether err is a RequestError with the given status code.
func IsCode(err error, code int) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Code == code
}
