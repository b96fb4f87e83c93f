package models

// Frame types carried over the websocket transport.
const (
	EventJoin         = "join"
	EventJoined       = "joined"
	EventCodeChange   = "code-change"
	EventCodeSync     = "code-sync"
	EventDisconnected = "disconnected"
	EventError        = "error"
)

// WSFrame is the envelope for every websocket message in both directions.
type WSFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ClientInfo is one entry of a room membership snapshot.
type ClientInfo struct {
	SocketID string `json:"socketId"`
	Username string `json:"username"`
}

// JoinRequest is sent by a client to enter a room.
type JoinRequest struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

// JoinedEvent is broadcast to every room member (including the newcomer)
// after a successful join. Clients is the full membership snapshot;
// Username/SocketID identify who just joined.
type JoinedEvent struct {
	Clients  []ClientInfo `json:"clients"`
	Username string       `json:"username"`
	SocketID string       `json:"socketId"`
}

// CodeChange carries the full document. RoomID is set on the client→server
// leg and omitted on the server→client relay.
type CodeChange struct {
	RoomID string `json:"roomId,omitempty"`
	Code   string `json:"code"`
}

// CodeSync is a targeted document push from an existing member to a newcomer.
type CodeSync struct {
	SocketID string `json:"socketId"`
	Code     string `json:"code"`
}

// DisconnectedEvent notifies remaining members that a peer left.
type DisconnectedEvent struct {
	SocketID string `json:"socketId"`
	Username string `json:"username"`
}

/*** Code execution (remote service passthrough) ***/

type CompileRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type CompileResponse struct {
	Output     string `json:"output"`
	StatusCode int    `json:"statusCode,omitempty"`
	Memory     string `json:"memory,omitempty"`
	CPUTime    string `json:"cpuTime,omitempty"`
}

type CompileError struct {
	Error string `json:"error"`
}

// RoomIDResponse is returned by the room-id mint endpoint.
type RoomIDResponse struct {
	RoomID string `json:"roomId"`
}
