package models

// Member is one connection in a room as reported to clients.
type Member struct {
	ID       string `json:"id"`
	Codename string `json:"codename"`
}

// RoomInfo is the live view of a room served over HTTP.
type RoomInfo struct {
	ID          string   `json:"id"`
	MemberCount int      `json:"memberCount"`
	Members     []Member `json:"members"`
}

// MessageKind distinguishes relay notices from chat lines in a transcript.
type MessageKind string

const (
	MessageKindSystem MessageKind = "system"
	MessageKindUser   MessageKind = "user"
)

// Message is one line of a client's in-memory transcript.
type Message struct {
	Kind      MessageKind `json:"type"`
	From      string      `json:"from,omitempty"`
	Codename  string      `json:"codename,omitempty"`
	Content   string      `json:"content"`
	Timestamp int64       `json:"timestamp"` // unix milliseconds
}
