package server

import (
	"encoding/json"
	"time"

	"github.com/cocomeza/alcontruccionessrl/gallery"
)

// Message defines the gallery session message format
type Message struct {
	Sender     string      `json:"-"`
	ReceivedAt time.Time   `json:"-"`
	Type       MessageType `json:"type"`
	Payload    interface{} `json:"payload"`
}
type receivedMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type HelloMessage struct {
	SessionID string `json:"session"`
	ObraID    string `json:"obra"`
	Title     string `json:"title"`
}

type PingMessage struct {
	Timestamp float64 `json:"sendtime"`
}

type PongMessage struct {
	Timestamp float64 `json:"sendtime"`
	SvcTime   float64 `json:"servicetime"`
}

// StateMessage is sent after every change of the viewer.
type StateMessage struct {
	State    gallery.State        `json:"state"`
	Controls gallery.ControlsView `json:"controls"`
}

// PlayerMessage drives the browser's video element.
type PlayerMessage struct {
	Op    PlayerOp `json:"op"`
	URL   string   `json:"url,omitempty"`
	Value float64  `json:"value,omitempty"`
}

type KeyMessage struct {
	Key string `json:"key"`
}

type JumpMessage struct {
	Index int `json:"index"`
}

type ReopenMessage struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"`
}

// MediaEventMessage forwards an event of the element showing item Index.
type MediaEventMessage struct {
	Event    MediaEvent `json:"event"`
	Index    int        `json:"index"`
	Time     float64    `json:"time"`
	Duration float64    `json:"duration"`
	Reason   string     `json:"reason,omitempty"`
}

type ClosedMessage struct {
	Index int `json:"index"`
}

// SeekMessage moves the active video to Time seconds.
type SeekMessage struct {
	Time float64 `json:"time"`
}

// LevelMessage carries the new volume or playback rate.
type LevelMessage struct {
	Value float64 `json:"value"`
}

// MessageType is type of message
type MessageType int

// MessageType instances
const (
	MessageTypeHello MessageType = iota
	MessageTypePing
	MessageTypePong
	MessageTypeState
	MessageTypePlayer
	MessageTypeKey
	MessageTypeJump
	MessageTypeReopen
	MessageTypeClose
	MessageTypeMedia
	MessageTypeClosed
	MessageTypeSeek
	MessageTypeVolume
	MessageTypeRate
	MessageTypeReserved MessageType = 99
)

// Serialise a Message to its wire format as []byte
func (m *Message) Serialise() ([]byte, error) {
	return json.Marshal(m)
}

// Deserialise a Message stored in data in its wire format back to a struct
// and store it to the value pointed to by m
func Deserialise(data []byte, m *Message) error {
	var rm receivedMessage

	err := json.Unmarshal(data, &rm)
	if err != nil {
		return err
	}

	m.ReceivedAt = time.Now()
	m.Type = rm.Type

	var p interface{}
	switch m.Type {
	case MessageTypeHello:
		p = &HelloMessage{}
	case MessageTypePing:
		p = &PingMessage{}
	case MessageTypePong:
		p = &PongMessage{}
	case MessageTypeState:
		p = &StateMessage{}
	case MessageTypePlayer:
		p = &PlayerMessage{}
	case MessageTypeKey:
		p = &KeyMessage{}
	case MessageTypeJump:
		p = &JumpMessage{}
	case MessageTypeReopen:
		p = &ReopenMessage{}
	case MessageTypeMedia:
		p = &MediaEventMessage{}
	case MessageTypeClosed:
		p = &ClosedMessage{}
	case MessageTypeSeek:
		p = &SeekMessage{}
	case MessageTypeVolume, MessageTypeRate:
		p = &LevelMessage{}
	case MessageTypeClose:
		m.Payload = nil
		return nil
	case MessageTypeReserved:
		m.Payload = rm.Payload
		return nil
	default:
		return ErrUnknownMessageType
	}
	if len(rm.Payload) > 0 && string(rm.Payload) != "null" {
		if err := json.Unmarshal(rm.Payload, p); err != nil {
			return err
		}
	}
	m.Payload = p
	return nil
}
