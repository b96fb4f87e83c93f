// Package agent implements the client half of the session protocol: it joins
// a room over the websocket transport, keeps the authoritative local copy of
// the document, emits change events on local edits and applies remote ones.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"coderoom/internal/models"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoined
)

// Callbacks is the surface an editor UI hooks into. All callbacks are invoked
// from the agent's read loop; nil entries are skipped.
type Callbacks struct {
	OnMembers func(clients []models.ClientInfo)
	OnJoin    func(username string) // a peer joined
	OnLeave   func(username string) // a peer left
	OnCode    func(code string)     // remote update; must not be re-emitted as an edit
	OnError   func(err error)
}

type Agent struct {
	roomID   string
	username string
	cb       Callbacks

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	connID  string
	doc     string
	docSet  bool
	members []models.ClientInfo
	closed  bool
}

func New(roomID, username string, cb Callbacks) *Agent {
	return &Agent{roomID: roomID, username: username, cb: cb}
}

// Join dials the websocket endpoint, sends the join request and starts the
// read loop. The agent reaches StateJoined once the server's "joined"
// broadcast naming this connection arrives.
func (a *Agent) Join(ctx context.Context, wsURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.state = StateConnecting
	a.mu.Unlock()

	if err := a.send(models.WSFrame{
		Type: models.EventJoin,
		Data: models.JoinRequest{RoomID: a.roomID, Username: a.username},
	}); err != nil {
		_ = conn.Close()
		a.mu.Lock()
		a.conn = nil
		a.state = StateDisconnected
		a.mu.Unlock()
		return fmt.Errorf("send join: %w", err)
	}

	go a.readLoop(conn)
	return nil
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ConnID returns the connection ID the transport assigned, known only after
// the agent's own "joined" broadcast has been processed.
func (a *Agent) ConnID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connID
}

func (a *Agent) Document() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.doc
}

func (a *Agent) Members() []models.ClientInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.ClientInfo, len(a.members))
	copy(out, a.members)
	return out
}

// SetText records a local edit and, once joined, relays the full document to
// the rest of the room. Edits before the join completes stay local.
func (a *Agent) SetText(code string) {
	a.mu.Lock()
	a.doc = code
	a.docSet = true
	joined := a.state == StateJoined
	a.mu.Unlock()

	if joined {
		_ = a.send(models.WSFrame{
			Type: models.EventCodeChange,
			Data: models.CodeChange{RoomID: a.roomID, Code: code},
		})
	}
}

func (a *Agent) Close() error {
	a.mu.Lock()
	a.closed = true
	a.state = StateDisconnected
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (a *Agent) send(frame models.WSFrame) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return errors.New("not connected")
	}
	return a.conn.WriteJSON(frame)
}

func (a *Agent) readLoop(conn *websocket.Conn) {
	for {
		var frame models.WSFrame
		if err := conn.ReadJSON(&frame); err != nil {
			a.mu.Lock()
			closed := a.closed
			a.state = StateDisconnected
			a.mu.Unlock()
			if !closed && a.cb.OnError != nil {
				a.cb.OnError(err)
			}
			return
		}
		a.handle(frame)
	}
}

func (a *Agent) handle(frame models.WSFrame) {
	switch frame.Type {
	case models.EventJoined:
		var ev models.JoinedEvent
		decode(frame.Data, &ev)
		a.handleJoined(ev)
	case models.EventCodeChange:
		var cc models.CodeChange
		decode(frame.Data, &cc)
		a.handleCodeChange(cc)
	case models.EventDisconnected:
		var ev models.DisconnectedEvent
		decode(frame.Data, &ev)
		a.handleDisconnected(ev)
	case models.EventError:
		if a.cb.OnError != nil {
			msg, _ := frame.Data.(string)
			a.cb.OnError(errors.New(msg))
		}
	}
}

// handleJoined refreshes the member list from the canonical snapshot and
// pushes this agent's document to the subject of the broadcast, so a
// newcomer hears from every member that already holds a document. The first
// broadcast naming this agent's own username completes its join.
func (a *Agent) handleJoined(ev models.JoinedEvent) {
	a.mu.Lock()
	a.members = ev.Clients
	self := false
	if a.state == StateConnecting && ev.Username == a.username {
		a.state = StateJoined
		a.connID = ev.SocketID
		self = true
	}
	doc, docSet := a.doc, a.docSet
	a.mu.Unlock()

	if a.cb.OnMembers != nil {
		a.cb.OnMembers(ev.Clients)
	}
	if !self && a.cb.OnJoin != nil {
		a.cb.OnJoin(ev.Username)
	}
	// An agent with no document yet has nothing useful to push; the original
	// members cover the newcomer.
	if docSet {
		_ = a.send(models.WSFrame{
			Type: models.EventCodeSync,
			Data: models.CodeSync{SocketID: ev.SocketID, Code: doc},
		})
	}
}

// handleCodeChange replaces the local document verbatim. OnCode is the UI's
// cue to re-render without echoing the update back as a new local edit.
func (a *Agent) handleCodeChange(cc models.CodeChange) {
	a.mu.Lock()
	a.doc = cc.Code
	a.docSet = true
	a.mu.Unlock()

	if a.cb.OnCode != nil {
		a.cb.OnCode(cc.Code)
	}
}

func (a *Agent) handleDisconnected(ev models.DisconnectedEvent) {
	a.mu.Lock()
	kept := a.members[:0]
	for _, ci := range a.members {
		if ci.SocketID != ev.SocketID {
			kept = append(kept, ci)
		}
	}
	a.members = kept
	a.mu.Unlock()

	if a.cb.OnLeave != nil {
		a.cb.OnLeave(ev.Username)
	}
	if a.cb.OnMembers != nil {
		a.cb.OnMembers(a.Members())
	}
}

func decode(in any, out any) { b, _ := json.Marshal(in); _ = json.Unmarshal(b, out) }
