package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventName identifies the kind of a websocket frame.
type EventName string

// Client to server events.
const (
	EventJoinRoom     EventName = "join-room"
	EventLeaveRoom    EventName = "leave-room"
	EventInitiateCall EventName = "initiate-call"
	EventEndCall      EventName = "end-call"
)

// Server to client events.
const (
	EventWelcome      EventName = "welcome"
	EventRoomUsers    EventName = "room-users"
	EventUserJoined   EventName = "user-joined"
	EventUserLeft     EventName = "user-left"
	EventCallIncoming EventName = "call-incoming"
	EventCallEnded    EventName = "call-ended"
)

// Events used in both directions with a different payload shape per direction.
const (
	EventSignal       EventName = "signal"
	EventTextMessage  EventName = "text-message"
	EventCallAccepted EventName = "call-accepted"
	EventCallRejected EventName = "call-rejected"
)

var ErrUnknownEvent = errors.New("unknown event")

// Envelope is the frame written on the wire for every event.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is anything that can be framed into an Envelope.
type Event interface {
	Name() EventName
}

// ClientEvent is the closed set of events a client may send to the relay.
type ClientEvent interface {
	Event
	isClientEvent()
}

// ServerEvent is the closed set of events the relay sends to a client.
type ServerEvent interface {
	Event
	isServerEvent()
}

// JoinRoom asks the relay to place the connection in a room.
type JoinRoom struct {
	RoomID   string `json:"roomId"`
	Codename string `json:"codename"`
}

// LeaveRoom removes the connection from its current room.
type LeaveRoom struct{}

// InitiateCall asks the relay to ring another connection.
type InitiateCall struct {
	To       string `json:"to"`
	From     string `json:"from,omitempty"`
	Codename string `json:"codename"`
}

// SendSignal carries an opaque handshake blob to another connection.
type SendSignal struct {
	To     string          `json:"to"`
	From   string          `json:"from,omitempty"`
	Signal json.RawMessage `json:"signal"`
}

// SendText posts a chat line to the sender's room.
type SendText struct {
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
	Codename string `json:"codename"`
}

// AcceptCall tells the caller that the callee picked up.
type AcceptCall struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
}

// RejectCall tells the caller that the callee declined.
type RejectCall struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
}

// EndCall hangs up on the named connection.
type EndCall struct {
	To string `json:"to"`
}

func (*JoinRoom) Name() EventName     { return EventJoinRoom }
func (*LeaveRoom) Name() EventName    { return EventLeaveRoom }
func (*InitiateCall) Name() EventName { return EventInitiateCall }
func (*SendSignal) Name() EventName   { return EventSignal }
func (*SendText) Name() EventName     { return EventTextMessage }
func (*AcceptCall) Name() EventName   { return EventCallAccepted }
func (*RejectCall) Name() EventName   { return EventCallRejected }
func (*EndCall) Name() EventName      { return EventEndCall }

func (*JoinRoom) isClientEvent()     {}
func (*LeaveRoom) isClientEvent()    {}
func (*InitiateCall) isClientEvent() {}
func (*SendSignal) isClientEvent()   {}
func (*SendText) isClientEvent()     {}
func (*AcceptCall) isClientEvent()   {}
func (*RejectCall) isClientEvent()   {}
func (*EndCall) isClientEvent()      {}

// Welcome tells a freshly accepted connection its identifier.
type Welcome struct {
	ID string `json:"id"`
}

// RoomUsers is sent to a joining connection only.
type RoomUsers []Member

// UserJoined is broadcast to the other members when someone joins.
type UserJoined struct {
	UserID   string   `json:"userId"`
	Codename string   `json:"codename"`
	Users    []Member `json:"users"`
}

// UserLeft is broadcast to the remaining members when someone leaves.
type UserLeft struct {
	UserID   string   `json:"userId"`
	Codename string   `json:"codename"`
	Users    []Member `json:"users"`
}

type CallIncoming struct {
	From     string `json:"from"`
	Codename string `json:"codename"`
}

type CallAccepted struct {
	From string `json:"from"`
}

type CallRejected struct {
	From string `json:"from"`
}

type CallEnded struct {
	From string `json:"from,omitempty"`
}

type Signal struct {
	Signal json.RawMessage `json:"signal"`
	From   string          `json:"from"`
}

// TextMessage is a chat line as fanned out by the relay. Timestamp is unix
// milliseconds taken at relay receipt.
type TextMessage struct {
	From      string `json:"from"`
	Codename  string `json:"codename"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func (*Welcome) Name() EventName      { return EventWelcome }
func (*RoomUsers) Name() EventName    { return EventRoomUsers }
func (*UserJoined) Name() EventName   { return EventUserJoined }
func (*UserLeft) Name() EventName     { return EventUserLeft }
func (*CallIncoming) Name() EventName { return EventCallIncoming }
func (*CallAccepted) Name() EventName { return EventCallAccepted }
func (*CallRejected) Name() EventName { return EventCallRejected }
func (*CallEnded) Name() EventName    { return EventCallEnded }
func (*Signal) Name() EventName       { return EventSignal }
func (*TextMessage) Name() EventName  { return EventTextMessage }

func (*Welcome) isServerEvent()      {}
func (*RoomUsers) isServerEvent()    {}
func (*UserJoined) isServerEvent()   {}
func (*UserLeft) isServerEvent()     {}
func (*CallIncoming) isServerEvent() {}
func (*CallAccepted) isServerEvent() {}
func (*CallRejected) isServerEvent() {}
func (*CallEnded) isServerEvent()    {}
func (*Signal) isServerEvent()       {}
func (*TextMessage) isServerEvent()  {}

var clientEvents = map[EventName]func() ClientEvent{
	EventJoinRoom:     func() ClientEvent { return &JoinRoom{} },
	EventLeaveRoom:    func() ClientEvent { return &LeaveRoom{} },
	EventInitiateCall: func() ClientEvent { return &InitiateCall{} },
	EventSignal:       func() ClientEvent { return &SendSignal{} },
	EventTextMessage:  func() ClientEvent { return &SendText{} },
	EventCallAccepted: func() ClientEvent { return &AcceptCall{} },
	EventCallRejected: func() ClientEvent { return &RejectCall{} },
	EventEndCall:      func() ClientEvent { return &EndCall{} },
}

var serverEvents = map[EventName]func() ServerEvent{
	EventWelcome:      func() ServerEvent { return &Welcome{} },
	EventRoomUsers:    func() ServerEvent { return &RoomUsers{} },
	EventUserJoined:   func() ServerEvent { return &UserJoined{} },
	EventUserLeft:     func() ServerEvent { return &UserLeft{} },
	EventCallIncoming: func() ServerEvent { return &CallIncoming{} },
	EventCallAccepted: func() ServerEvent { return &CallAccepted{} },
	EventCallRejected: func() ServerEvent { return &CallRejected{} },
	EventCallEnded:    func() ServerEvent { return &CallEnded{} },
	EventSignal:       func() ServerEvent { return &Signal{} },
	EventTextMessage:  func() ServerEvent { return &TextMessage{} },
}

// Encode frames ev into its wire form.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", ev.Name(), err)
	}
	return json.Marshal(Envelope{Event: ev.Name(), Data: data})
}

// DecodeClientEvent parses a frame received by the relay.
func DecodeClientEvent(frame []byte) (ClientEvent, error) {
	return decode(frame, clientEvents)
}

// DecodeServerEvent parses a frame received by a client.
func DecodeServerEvent(frame []byte) (ServerEvent, error) {
	return decode(frame, serverEvents)
}

func decode[T Event](frame []byte, table map[EventName]func() T) (T, error) {
	var zero T

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return zero, fmt.Errorf("parse envelope: %w", err)
	}

	newEvent, ok := table[env.Event]
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	ev := newEvent()
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return zero, fmt.Errorf("parse %s payload: %w", env.Event, err)
		}
	}
	return ev, nil
}
