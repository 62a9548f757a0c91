package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MessageType is the leading tag of every wire tuple.
type MessageType int

const (
	MessageCommand  MessageType = 0
	MessageResponse MessageType = 1
)

const (
	CommandNewSession     = "newSession"
	CommandAddonInstall   = "Addon:Install"
	CommandAddonUninstall = "Addon:Uninstall"
)

// Command is a client-to-server request tuple.
type Command struct {
	MessageID uint64
	Name      string
	Params    json.RawMessage
}

// Response is a server-to-client reply tuple. Error is nil on success.
type Response struct {
	MessageID uint64
	Error     *RemoteError
	Result    json.RawMessage
}

// Greeting is the unsolicited object a server writes once after accept.
type Greeting struct {
	ApplicationType string `json:"applicationType"`
	Protocol        int    `json:"marionetteProtocol"`
}

var jsonNull = []byte("null")

var emptyObject = json.RawMessage("{}")

// EncodeCommand serializes [0, id, name, params]. Params must encode as a
// JSON object; nil, typed nils and null encode as {}.
func EncodeCommand(messageID uint64, name string, params any) ([]byte, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty command name", ErrProtocol)
	}
	encoded, err := encodeParams(params)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s params: %v", ErrProtocol, name, err)
	}
	payload, err := json.Marshal([]any{MessageCommand, messageID, name, encoded})
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", ErrProtocol, name, err)
	}
	return payload, nil
}

func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return emptyObject, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, jsonNull):
		return emptyObject, nil
	case raw[0] != '{':
		return nil, fmt.Errorf("params must be a JSON object, got %s", raw)
	}
	return raw, nil
}

// DecodeResponse parses a response tuple. It knows nothing about the shape
// of command-specific results.
func DecodeResponse(payload []byte) (Response, error) {
	elems, err := splitTuple(payload, MessageResponse)
	if err != nil {
		return Response{}, err
	}
	id, err := decodeMessageID(elems[1])
	if err != nil {
		return Response{}, err
	}
	remote, err := decodeRemoteError(elems[2])
	if err != nil {
		return Response{}, err
	}
	return Response{
		MessageID: id,
		Error:     remote,
		Result:    copyRaw(elems[3]),
	}, nil
}

// DecodeCommand parses a command tuple. Servers and test doubles use it.
func DecodeCommand(payload []byte) (Command, error) {
	elems, err := splitTuple(payload, MessageCommand)
	if err != nil {
		return Command{}, err
	}
	id, err := decodeMessageID(elems[1])
	if err != nil {
		return Command{}, err
	}
	var name string
	if err := json.Unmarshal(elems[2], &name); err != nil || strings.TrimSpace(name) == "" {
		return Command{}, fmt.Errorf("%w: invalid command name", ErrProtocol)
	}
	params := bytes.TrimSpace(elems[3])
	if len(params) == 0 || params[0] != '{' {
		return Command{}, fmt.Errorf("%w: params must be an object", ErrProtocol)
	}
	return Command{MessageID: id, Name: name, Params: copyRaw(params)}, nil
}

// EncodeResponse serializes [1, id, error, result]. A nil result encodes as null.
func EncodeResponse(messageID uint64, remote *RemoteError, result any) ([]byte, error) {
	var errElem any
	if remote != nil {
		errElem = remote
	}
	payload, err := json.Marshal([]any{MessageResponse, messageID, errElem, result})
	if err != nil {
		return nil, fmt.Errorf("%w: encode response: %v", ErrProtocol, err)
	}
	return payload, nil
}

// DecodeGreeting parses the server greeting object.
func DecodeGreeting(payload []byte) (Greeting, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Greeting{}, fmt.Errorf("%w: greeting must be an object", ErrProtocol)
	}
	var g Greeting
	if err := json.Unmarshal(trimmed, &g); err != nil {
		return Greeting{}, fmt.Errorf("%w: greeting: %v", ErrProtocol, err)
	}
	if g.Protocol <= 0 {
		return Greeting{}, fmt.Errorf("%w: greeting missing marionetteProtocol", ErrProtocol)
	}
	return g, nil
}

func splitTuple(payload []byte, want MessageType) ([]json.RawMessage, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(payload, &elems); err != nil {
		return nil, fmt.Errorf("%w: not a json array: %v", ErrProtocol, err)
	}
	if len(elems) != 4 {
		return nil, fmt.Errorf("%w: expected 4 elements, got %d", ErrProtocol, len(elems))
	}
	var tag int
	if isNull(elems[0]) || json.Unmarshal(elems[0], &tag) != nil {
		return nil, fmt.Errorf("%w: invalid type tag %s", ErrProtocol, elems[0])
	}
	if MessageType(tag) != want {
		return nil, fmt.Errorf("%w: type tag %d, want %d", ErrProtocol, tag, want)
	}
	return elems, nil
}

func decodeMessageID(raw json.RawMessage) (uint64, error) {
	var id uint64
	if isNull(raw) || json.Unmarshal(raw, &id) != nil {
		return 0, fmt.Errorf("%w: invalid message_id %s", ErrProtocol, raw)
	}
	return id, nil
}

func decodeRemoteError(raw json.RawMessage) (*RemoteError, error) {
	if isNull(raw) {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: error must be null or an object", ErrProtocol)
	}
	var remote RemoteError
	if err := json.Unmarshal(trimmed, &remote); err != nil {
		return nil, fmt.Errorf("%w: error object: %v", ErrProtocol, err)
	}
	if strings.TrimSpace(remote.Kind) == "" {
		return nil, fmt.Errorf("%w: error object missing kind", ErrProtocol)
	}
	return &remote, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), jsonNull)
}

func copyRaw(raw json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
