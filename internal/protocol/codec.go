package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	relayerr "ipcrelay/internal/errors"
)

var jsonNull = []byte("null")

// Decode parses one inbound frame.  Unrecognised keys decode to
// Unknown without error; a recognised key whose value has the wrong
// shape returns a *errors.ProtocolError.  handles may be nil when the
// transport cannot carry descriptors.
func Decode(frame []byte, handles HandleSource) (Message, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(frame, &parts); err != nil {
		return nil, &relayerr.ProtocolError{Reason: "frame is not a JSON array", Err: err}
	}
	if len(parts) < 1 || len(parts) > 2 {
		return nil, relayerr.Malformed("", fmt.Sprintf("want [key, value], got %d elements", len(parts)))
	}

	var key string
	if err := json.Unmarshal(parts[0], &key); err != nil {
		return nil, &relayerr.ProtocolError{Reason: "key is not a string", Err: err}
	}

	var value json.RawMessage
	if len(parts) == 2 && !isNull(parts[1]) {
		value = parts[1]
	}

	switch key {
	case KeyStdout:
		return decodeWrite(key, Stdout, value)
	case KeyStderr:
		return decodeWrite(key, Stderr, value)
	case KeyMessage:
		return decodeForward(value, handles)
	case KeyDisconnect:
		return Disconnect{}, nil
	default:
		return Unknown{Name: key}, nil
	}
}

// decodeWrite accepts [eventName, [text, ...]].  Only the data event is
// relayed; extra payload elements are ignored.
func decodeWrite(key string, stream Stream, value json.RawMessage) (Message, error) {
	if value == nil {
		return nil, relayerr.Malformed(key, "missing value")
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(value, &parts); err != nil || len(parts) < 2 {
		return nil, relayerr.Malformed(key, "value must be [event, [text, ...]]")
	}

	var event string
	if err := json.Unmarshal(parts[0], &event); err != nil {
		return nil, relayerr.Malformed(key, "event name is not a string")
	}
	if event != EventData {
		return nil, relayerr.Malformed(key, fmt.Sprintf("event %q is not relayed", event))
	}

	var payload []json.RawMessage
	if err := json.Unmarshal(parts[1], &payload); err != nil || len(payload) == 0 {
		return nil, relayerr.Malformed(key, "payload must be a non-empty array")
	}
	var text string
	if err := json.Unmarshal(payload[0], &text); err != nil {
		return nil, relayerr.Malformed(key, "payload text is not a string")
	}

	return Write{Stream: stream, Event: event, Text: text}, nil
}

// decodeForward accepts [payload, handle].  The handle is claimed last
// so that a malformed frame never consumes a descriptor.
func decodeForward(value json.RawMessage, handles HandleSource) (Message, error) {
	if value == nil {
		return nil, relayerr.Malformed(KeyMessage, "missing value")
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(value, &parts); err != nil || len(parts) != 2 {
		return nil, relayerr.Malformed(KeyMessage, "value must be [payload, handle]")
	}

	fwd := Forward{Payload: parts[0]}
	if isNull(parts[1]) {
		return fwd, nil
	}

	if handles == nil {
		return nil, &relayerr.ProtocolError{Key: KeyMessage, Reason: "channel cannot carry handles", Err: relayerr.ErrMissingHandle}
	}
	f, ok := handles.TakeHandle()
	if !ok {
		return nil, &relayerr.ProtocolError{Key: KeyMessage, Reason: "no descriptor for handle", Err: relayerr.ErrMissingHandle}
	}
	fwd.Handle = f
	return fwd, nil
}

// EncodeForward returns the frame body for a forwarded payload.
func EncodeForward(f Forward) ([]byte, error) {
	if len(f.Payload) == 0 {
		return nil, relayerr.Malformed(KeyMessage, "empty payload")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, f.Payload); err != nil {
		return nil, &relayerr.ProtocolError{Key: KeyMessage, Reason: "payload is not valid JSON", Err: err}
	}
	return buf.Bytes(), nil
}

// EncodeReport returns the ["uncaughtException", report] frame body.
func EncodeReport(r Report) ([]byte, error) {
	data, err := json.Marshal([]any{KeyUncaught, r})
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return data, nil
}

// DecodeReport parses a frame produced by EncodeReport.  ok is false
// for any other frame.
func DecodeReport(frame []byte) (r Report, ok bool) {
	var parts []json.RawMessage
	if err := json.Unmarshal(frame, &parts); err != nil || len(parts) != 2 {
		return Report{}, false
	}
	var key string
	if err := json.Unmarshal(parts[0], &key); err != nil || key != KeyUncaught {
		return Report{}, false
	}
	if err := json.Unmarshal(parts[1], &r); err != nil {
		return Report{}, false
	}
	return r, true
}

// EncodeControl builds the inbound frame for m, the way a parent sends
// it.  A Forward with a non-nil Handle gets a placeholder handle value;
// the descriptor itself travels out of band.
func EncodeControl(m Message) ([]byte, error) {
	var frame []any
	switch v := m.(type) {
	case Write:
		event := v.Event
		if event == "" {
			event = EventData
		}
		frame = []any{v.Key(), []any{event, []string{v.Text}}}
	case Forward:
		var handle any
		if v.Handle != nil {
			handle = map[string]any{}
		}
		frame = []any{KeyMessage, []any{v.Payload, handle}}
	case Disconnect:
		frame = []any{KeyDisconnect}
	case Unknown:
		frame = []any{v.Name, nil}
	default:
		return nil, fmt.Errorf("unsupported message type %T", m)
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q: %w", m.Key(), err)
	}
	return data, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), jsonNull)
}
