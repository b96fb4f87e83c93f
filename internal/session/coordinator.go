package session

import (
	"errors"
	"sync"

	"coderoom/internal/models"
	"coderoom/internal/utils"
)

var ErrRoomNotFound = errors.New("room not found")

// Publisher receives membership change notifications for fan-out beyond this
// process (e.g. Redis presence events). May be left unset.
type Publisher interface {
	MemberJoined(roomID, connID, username string)
	MemberLeft(roomID, connID, username string)
}

// Coordinator is the session core: it reacts to join, document-change and
// disconnect events from independent connections and decides who receives
// which notification. It never holds document content; it only relays.
type Coordinator struct {
	log      *utils.Logger
	registry *Registry
	hub      *Hub
	presence Publisher

	mu       sync.Mutex
	memberOf map[string]string // connID -> roomID
}

func NewCoordinator(log *utils.Logger, registry *Registry, hub *Hub) *Coordinator {
	return &Coordinator{
		log:      log,
		registry: registry,
		hub:      hub,
		memberOf: make(map[string]string),
	}
}

func (co *Coordinator) SetPresence(p Publisher) { co.presence = p }

func (co *Coordinator) Hub() *Hub { return co.hub }

// Join registers the connection's display name, adds it to the room and
// broadcasts a "joined" event carrying the full membership snapshot to every
// member, the newcomer included. Old and new members alike replace their
// local list with the snapshot, so lists cannot diverge on delivery order.
func (co *Coordinator) Join(client *Client, roomID, username string) {
	co.registry.Register(client.ID, username)
	room := co.hub.GetOrCreate(roomID)
	clients := room.JoinSnapshot(client, co.resolveName)

	co.mu.Lock()
	co.memberOf[client.ID] = roomID
	co.mu.Unlock()

	room.BroadcastAll(models.WSFrame{
		Type: models.EventJoined,
		Data: models.JoinedEvent{
			Clients:  clients,
			Username: username,
			SocketID: client.ID,
		},
	})
	if co.presence != nil {
		co.presence.MemberJoined(roomID, client.ID, username)
	}
	co.log.Info("client joined", "room", roomID, "conn", client.ID, "username", username)
}

// Change relays the full document verbatim to every room member except the
// sender. Last write wins on each receiver; no diffing, no merge.
func (co *Coordinator) Change(roomID, code string, sender *Client) error {
	room, ok := co.hub.Get(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	room.Broadcast(sender, models.WSFrame{
		Type: models.EventCodeChange,
		Data: models.CodeChange{Code: code},
	})
	return nil
}

// SyncTo relays a document to exactly one connection, used by existing
// members to bring a newcomer up to date. A target that already disconnected
// is dropped silently; best-effort delivery is the accepted model.
func (co *Coordinator) SyncTo(targetConnID, code string) {
	co.mu.Lock()
	roomID, ok := co.memberOf[targetConnID]
	co.mu.Unlock()
	if !ok {
		return
	}
	room, ok := co.hub.Get(roomID)
	if !ok {
		return
	}
	target, ok := room.Get(targetConnID)
	if !ok {
		return
	}
	target.Send(models.WSFrame{
		Type: models.EventCodeChange,
		Data: models.CodeChange{Code: code},
	})
}

// Disconnect notifies the remaining members, then cleans up. The username is
// resolved before the registry entry goes away so a racing cleanup cannot
// leave the departure notice nameless.
func (co *Coordinator) Disconnect(client *Client) {
	username, _ := co.registry.Lookup(client.ID)

	co.mu.Lock()
	roomID, joined := co.memberOf[client.ID]
	delete(co.memberOf, client.ID)
	co.mu.Unlock()

	if joined {
		if room, ok := co.hub.Get(roomID); ok {
			room.Broadcast(client, models.WSFrame{
				Type: models.EventDisconnected,
				Data: models.DisconnectedEvent{SocketID: client.ID, Username: username},
			})
			if left := room.Leave(client); left == 0 {
				co.hub.Delete(roomID)
			}
		}
		if co.presence != nil {
			co.presence.MemberLeft(roomID, client.ID, username)
		}
		co.log.Info("client left", "room", roomID, "conn", client.ID, "username", username)
	}
	co.registry.Remove(client.ID)
}

func (co *Coordinator) resolveName(connID string) string {
	name, _ := co.registry.Lookup(connID)
	return name
}
