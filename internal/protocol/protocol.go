package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const Version = "1.0"

// Message types.
const (
	TypeHello        = "hello"
	TypeCommand      = "command"
	TypeChecksum     = "checksum"
	TypeSyncRequest  = "sync-request"
	TypeSyncResponse = "sync-response"
	TypeQuit         = "quit"
)

var (
	ErrUnknownType = errors.New("protocol: unknown message type")
	ErrVersion     = errors.New("protocol: unsupported protocol version")
)

// Message is implemented by every peer-to-peer message.
type Message interface {
	MessageType() string
}

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Decode routes a raw frame to its typed message. It does not validate against
// the schemas; use Validator.Decode for untrusted input.
func Decode(b []byte) (Message, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return nil, err
	}
	if base.ProtocolVersion != Version {
		return nil, fmt.Errorf("%w: %q", ErrVersion, base.ProtocolVersion)
	}
	var msg Message
	switch base.Type {
	case TypeHello:
		msg = &HelloMsg{}
	case TypeCommand:
		msg = &CommandMsg{}
	case TypeChecksum:
		msg = &ChecksumMsg{}
	case TypeSyncRequest:
		msg = &SyncRequestMsg{}
	case TypeSyncResponse:
		msg = &SyncResponseMsg{}
	case TypeQuit:
		msg = &QuitMsg{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, base.Type)
	}
	if err := json.Unmarshal(b, msg); err != nil {
		return nil, fmt.Errorf("%s: %w", base.Type, err)
	}
	return deref(msg), nil
}

// Encode stamps type and protocol version and marshals the message.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case HelloMsg:
		v.Type, v.ProtocolVersion = TypeHello, Version
		return json.Marshal(v)
	case CommandMsg:
		v.Type, v.ProtocolVersion = TypeCommand, Version
		return json.Marshal(v)
	case ChecksumMsg:
		v.Type, v.ProtocolVersion = TypeChecksum, Version
		return json.Marshal(v)
	case SyncRequestMsg:
		v.Type, v.ProtocolVersion = TypeSyncRequest, Version
		return json.Marshal(v)
	case SyncResponseMsg:
		v.Type, v.ProtocolVersion = TypeSyncResponse, Version
		entries := make([]TickCommands, len(v.Commands))
		for i, tc := range v.Commands {
			cmds := make([]CommandMsg, len(tc.Commands))
			for j, c := range tc.Commands {
				c.Type, c.ProtocolVersion = TypeCommand, Version
				cmds[j] = c
			}
			entries[i] = TickCommands{Tick: tc.Tick, Commands: cmds}
		}
		v.Commands = entries
		return json.Marshal(v)
	case QuitMsg:
		v.Type, v.ProtocolVersion = TypeQuit, Version
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
}

// deref turns the pointer used for unmarshalling back into the value type the
// rest of the code switches on.
func deref(m Message) Message {
	switch v := m.(type) {
	case *HelloMsg:
		return *v
	case *CommandMsg:
		return *v
	case *ChecksumMsg:
		return *v
	case *SyncRequestMsg:
		return *v
	case *SyncResponseMsg:
		return *v
	case *QuitMsg:
		return *v
	}
	return m
}
