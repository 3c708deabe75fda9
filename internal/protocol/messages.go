// Package protocol defines the wire messages exchanged between chat clients and
// the server. Every message is a single externally tagged JSON value carried in
// one UTF-8 text frame, e.g. {"Join":{"room":"lobby","name":"ada"}}.
package protocol

// Variant tags as they appear on the wire.
const (
	TagJoin     = "Join"
	TagLeave    = "Leave"
	TagMessage  = "Message"
	TagRoomList = "RoomList"
	TagMembers  = "Members"

	TagMemberList   = "MemberList"
	TagUserJoined   = "UserJoined"
	TagUserLeft     = "UserLeft"
	TagNewMessage   = "NewMessage"
	TagHistoryBatch = "HistoryBatch"
	TagError        = "Error"
)

// Request is a client to server message. The set of implementations is closed;
// dispatch on it with an exhaustive type switch.
type Request interface {
	requestTag() string
}

// JoinRequest asks to enter a room under a display name.
type JoinRequest struct {
	Room string `json:"room" validate:"required,notblank,max=64"`
	Name string `json:"name" validate:"required,notblank,max=32"`
}

// LeaveRequest leaves the current room and ends the session.
type LeaveRequest struct{}

// MessageRequest posts text to the current room.
type MessageRequest struct {
	Text string `json:"text" validate:"max=4096"`
}

// RoomListRequest asks for the names of all live rooms.
type RoomListRequest struct{}

// MembersRequest asks for a room's member names. An empty Room means the
// sender's current room.
type MembersRequest struct {
	Room string `json:"room,omitempty" validate:"omitempty,notblank,max=64"`
}

func (JoinRequest) requestTag() string     { return TagJoin }
func (LeaveRequest) requestTag() string    { return TagLeave }
func (MessageRequest) requestTag() string  { return TagMessage }
func (RoomListRequest) requestTag() string { return TagRoomList }
func (MembersRequest) requestTag() string  { return TagMembers }

// Event is a server to client message, either fanned out by a room or sent to a
// single session. The set of implementations is closed.
type Event interface {
	eventTag() string
}

// RoomList carries the names of the live rooms.
type RoomList struct {
	Rooms []string `json:"rooms"`
}

// MemberList carries the display names present in a room.
type MemberList struct {
	Room    string   `json:"room"`
	Members []string `json:"members"`
}

// UserJoined is broadcast to existing members when someone joins.
type UserJoined struct {
	Room string `json:"room"`
	Name string `json:"name"`
}

// UserLeft is broadcast to remaining members when someone leaves.
type UserLeft struct {
	Room string `json:"room"`
	Name string `json:"name"`
}

// NewMessage is a chat line. TS is milliseconds since the Unix epoch.
type NewMessage struct {
	Room string `json:"room"`
	Name string `json:"name"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// HistoryBatch replays retained messages to a member that just joined.
type HistoryBatch struct {
	Room     string       `json:"room"`
	Messages []NewMessage `json:"messages"`
}

// ErrorEvent reports a failure to the client.
type ErrorEvent struct {
	Reason string `json:"reason"`
}

func (RoomList) eventTag() string     { return TagRoomList }
func (MemberList) eventTag() string   { return TagMemberList }
func (UserJoined) eventTag() string   { return TagUserJoined }
func (UserLeft) eventTag() string     { return TagUserLeft }
func (NewMessage) eventTag() string   { return TagNewMessage }
func (HistoryBatch) eventTag() string { return TagHistoryBatch }
func (ErrorEvent) eventTag() string   { return TagError }
