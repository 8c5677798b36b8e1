package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrIgnoredKind marks a recognized kind that is not acted upon (mc_print).
	ErrIgnoredKind = errors.New("ignored message kind")
	// ErrUnknownKind marks a top-level key that is not a known kind.
	ErrUnknownKind = errors.New("unknown message kind")
)

// Kind returns the first top-level key of a JSON object.
func Kind(payload []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("read report: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return "", fmt.Errorf("report is not an object")
	}
	tok, err = dec.Token()
	if err != nil {
		return "", fmt.Errorf("read report key: %w", err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("report has no top-level key")
	}
	return key, nil
}

// Decode classifies a raw report and decodes the kinds that are acted upon.
func Decode(payload []byte) (*Message, error) {
	return DecodeOnto(payload, nil)
}

// DecodeOnto is Decode for incremental reports: keys absent from a print
// report keep their value from prev. An ams block, when present, replaces
// the previous one whole. prev is never modified.
func DecodeOnto(payload []byte, prev *Snapshot) (*Message, error) {
	kind, err := Kind(payload)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindPrint:
		s, err := decodePrint(payload, prev)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return &Message{Kind: kind, Print: s}, nil
	case KindMcPrint:
		return nil, fmt.Errorf("%s: %w", kind, ErrIgnoredKind)
	default:
		return nil, fmt.Errorf("%s: %w", kind, ErrUnknownKind)
	}
}

func decodePrint(payload []byte, prev *Snapshot) (*Snapshot, error) {
	var env struct {
		Print map[string]json.RawMessage `json:"print"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	if env.Print == nil {
		return nil, errors.New("empty body")
	}

	s := &Snapshot{}
	if prev != nil {
		*s = *prev
		if s.StageCode != nil {
			code := *s.StageCode
			s.StageCode = &code
		}
		if _, ok := env.Print["ams"]; ok {
			s.AMS = nil
		}
	}

	body, err := json.Marshal(env.Print)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, s); err != nil {
		return nil, err
	}
	return s, nil
}
